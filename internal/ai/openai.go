package ai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultAzureAPIVersion = "2024-10-21"
)

// OpenAIClient embeds text with the OpenAI API or an Azure OpenAI deployment.
type OpenAIClient struct {
	config *ClientConfig
	http   *http.Client
	// sendDim asks the API to shorten embeddings to the configured dimension.
	sendDim bool
}

func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	// Set default models if not provided
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-3-small"
	}
	if config.Provider == ProviderAzureOpenAI && config.APIVersion == "" {
		config.APIVersion = defaultAzureAPIVersion
	}
	sendDim := config.Dim > 0
	if config.Dim == 0 {
		switch config.EmbedModel {
		case "text-embedding-3-large":
			config.Dim = 3072
		default:
			config.Dim = 1536
		}
	}

	transport := &http.Transport{}

	// Check for environment variable to skip TLS verification (for corporate proxies, etc.)
	if skipTLS, _ := strconv.ParseBool(os.Getenv("VIDSEARCH_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	return &OpenAIClient{
		config: config,
		http: &http.Client{
			Timeout:   20 * time.Second,
			Transport: transport,
		},
		sendDim: sendDim,
	}
}

// embeddingsURL returns the embeddings endpoint. Azure deployments are
// addressed by deployment name, which is the configured embed model.
func (c *OpenAIClient) embeddingsURL() string {
	if c.config.Provider == ProviderAzureOpenAI {
		base := strings.TrimRight(c.config.Endpoint, "/")
		return fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
			base, url.PathEscape(c.config.EmbedModel), url.QueryEscape(c.config.APIVersion))
	}
	base := defaultOpenAIBaseURL
	if c.config.Endpoint != "" {
		base = strings.TrimRight(c.config.Endpoint, "/")
	}
	return base + "/embeddings"
}

// Embed implements the embedding functionality
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.config.APIKey == "" {
		return nil, errors.New("PROVIDER_API_KEY unset")
	}
	if c.config.Provider == ProviderAzureOpenAI && c.config.Endpoint == "" {
		return nil, errors.New("azure openai endpoint unset")
	}

	payload := map[string]any{"input": text}
	if c.config.Provider != ProviderAzureOpenAI {
		payload["model"] = c.config.EmbedModel
	}
	if c.sendDim {
		payload["dimensions"] = c.config.Dim
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.embeddingsURL(), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		var e struct{ Error struct{ Message string } }
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error.Message != "" {
			return nil, fmt.Errorf("openai embedding %d: %s", resp.StatusCode, e.Error.Message)
		}
		return nil, fmt.Errorf("openai embedding non-200: %s", resp.Status)
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, errors.New("no embedding")
	}
	return out.Data[0].Embedding, nil
}

func (c *OpenAIClient) Dim() int {
	return c.config.Dim
}

// setHeaders sets common headers for OpenAI requests
func (c *OpenAIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.config.Provider == ProviderAzureOpenAI {
		req.Header.Set("api-key", c.config.APIKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	if strings.HasPrefix(c.config.APIKey, "sk-proj-") && c.config.ProjectID != "" {
		req.Header.Set("OpenAI-Project", c.config.ProjectID)
	}
}
