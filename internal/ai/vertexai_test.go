package ai

import (
	"context"
	"strings"
	"testing"

	"google.golang.org/genai"
)

func TestNewVertexAIClient_NilConfig(t *testing.T) {
	if _, err := NewVertexAIClient(context.Background(), nil); err == nil {
		t.Error("Expected error for nil config")
	}
}

func TestNewVertexAIClient_Defaults(t *testing.T) {
	config := &ClientConfig{Provider: ProviderVertexAI, APIKey: "test-key"}
	client, err := NewVertexAIClient(context.Background(), config)
	if err != nil {
		// Client construction can fail without credentials in some environments.
		t.Skipf("genai client unavailable: %v", err)
	}
	if config.EmbedModel != "text-embedding-005" {
		t.Errorf("Expected default embed model, got %s", config.EmbedModel)
	}
	if client.Dim() != 768 {
		t.Errorf("Expected default dim 768, got %d", client.Dim())
	}
}

func TestVertexAIClient_EmbedWithNilClient(t *testing.T) {
	c := &VertexAIClient{config: &ClientConfig{Dim: 8}}
	_, err := c.Embed(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Errorf("Expected not initialized error, got %v", err)
	}
}

func TestApplyVertexDefaults(t *testing.T) {
	tests := []struct {
		name     string
		config   ClientConfig
		model    string
		dim      int
		location string
	}{
		{"project credentials", ClientConfig{ProjectID: "p"}, defaultVertexModel, defaultVertexDim, defaultVertexLocation},
		{"api key has no region", ClientConfig{APIKey: "k"}, defaultVertexModel, defaultVertexDim, ""},
		{"explicit values kept", ClientConfig{EmbedModel: "gemini-embedding-001", Dim: 256, Location: "europe-west4"}, "gemini-embedding-001", 256, "europe-west4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config
			applyVertexDefaults(&cfg)
			if cfg.EmbedModel != tt.model || cfg.Dim != tt.dim || cfg.Location != tt.location {
				t.Errorf("Unexpected defaults %+v", cfg)
			}
		})
	}
}

func TestVertexClientConfig(t *testing.T) {
	cc := vertexClientConfig(&ClientConfig{APIKey: " k ", ProjectID: "proj", Location: "us-east1"})
	if cc.Backend != genai.BackendVertexAI || cc.APIKey != "k" || cc.Project != "proj" || cc.Location != "us-east1" {
		t.Errorf("Unexpected genai config %+v", cc)
	}
}

func TestVertexAIClient_EmbedContentConfig(t *testing.T) {
	c := &VertexAIClient{config: &ClientConfig{Dim: 256}}
	cfg := c.embedContentConfig()
	if cfg.OutputDimensionality == nil || *cfg.OutputDimensionality != 256 {
		t.Errorf("Expected output dimensionality 256, got %v", cfg.OutputDimensionality)
	}
	if cfg.TaskType != "RETRIEVAL_DOCUMENT" {
		t.Errorf("Unexpected task type %s", cfg.TaskType)
	}
}
