package ai

import (
	"context"
	"errors"
	"hash/fnv"
)

// Client produces text embeddings of a fixed dimensionality.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI      Provider = "openai"
	ProviderAzureOpenAI Provider = "azureopenai"
	ProviderVertexAI    Provider = "vertexai"
	ProviderStub        Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey     string
	EmbedModel string
	Dim        int
	ProjectID  string
	Provider   Provider
	Location   string
	// Endpoint overrides the API base URL. For Azure OpenAI it is the resource
	// endpoint, e.g. https://name.openai.azure.com.
	Endpoint   string
	APIVersion string
}

// NewClient creates a new AI client based on configuration
func NewClient(config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	ctx := context.Background()
	switch config.Provider {
	case ProviderOpenAI, ProviderAzureOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient returns deterministic pseudo-embeddings derived from the text.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 8
	}
	return &StubClient{dim: dim}
}

// Embed hashes each word of text into a bucket so that texts sharing words
// land close together.
func (s *StubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make([]float32, s.dim)
	start := -1
	for i := 0; i <= len(text); i++ {
		if i < len(text) && text[i] != ' ' && text[i] != '\n' && text[i] != '\t' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			h := fnv.New32a()
			_, _ = h.Write([]byte(text[start:i]))
			v[h.Sum32()%uint32(s.dim)]++
			start = -1
		}
	}
	return v, nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
