package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	defaultVertexModel    = "text-embedding-005"
	defaultVertexDim      = 768
	defaultVertexLocation = "us-central1"
)

// VertexAIClient embeds transcript text with a Vertex AI embedding model.
// Chunks and questions share the retrieval-document task type so both land
// in the same vector space.
type VertexAIClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewVertexAIClient fills in the model, dimension and location defaults and
// opens a genai client on the Vertex AI backend.
func NewVertexAIClient(ctx context.Context, config *ClientConfig) (*VertexAIClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	applyVertexDefaults(config)

	client, err := genai.NewClient(ctx, vertexClientConfig(config))
	if err != nil {
		return nil, fmt.Errorf("create vertex ai client: %w", err)
	}
	return &VertexAIClient{config: config, client: client}, nil
}

func applyVertexDefaults(config *ClientConfig) {
	if config.EmbedModel == "" {
		config.EmbedModel = defaultVertexModel
	}
	if config.Dim == 0 {
		config.Dim = defaultVertexDim
	}
	// an API key selects express mode, which has no region
	if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = defaultVertexLocation
	}
}

func vertexClientConfig(config *ClientConfig) *genai.ClientConfig {
	return &genai.ClientConfig{
		Backend:  genai.BackendVertexAI,
		APIKey:   strings.TrimSpace(config.APIKey),
		Project:  strings.TrimSpace(config.ProjectID),
		Location: strings.TrimSpace(config.Location),
	}
}

// embedContentConfig pins the output size to the index dimension.
func (c *VertexAIClient) embedContentConfig() *genai.EmbedContentConfig {
	dim := int32(c.config.Dim)
	return &genai.EmbedContentConfig{
		TaskType:             "RETRIEVAL_DOCUMENT",
		OutputDimensionality: &dim,
	}
}

func (c *VertexAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.client == nil {
		return nil, errors.New("vertex ai client not initialized")
	}
	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, genai.Text(text), c.embedContentConfig())
	if err != nil {
		return nil, fmt.Errorf("vertex ai embedding: %w", err)
	}
	if res == nil || len(res.Embeddings) == 0 || res.Embeddings[0] == nil {
		return nil, errors.New("vertex ai returned no embedding")
	}
	return res.Embeddings[0].Values, nil
}

func (c *VertexAIClient) Dim() int {
	return c.config.Dim
}
