package ai

import (
	"context"
	"reflect"
	"sync"
	"testing"
)

// Test Provider constants
func TestProviderConstants(t *testing.T) {
	tests := []struct {
		provider Provider
		expected string
	}{
		{ProviderOpenAI, "openai"},
		{ProviderAzureOpenAI, "azureopenai"},
		{ProviderVertexAI, "vertexai"},
		{ProviderStub, "stub"},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			if string(tt.provider) != tt.expected {
				t.Errorf("Provider constant mismatch. Expected: %s, Got: %s", tt.expected, string(tt.provider))
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name        string
		config      *ClientConfig
		expectError bool
		expectType  string
	}{
		{name: "nil config", config: nil, expectError: true},
		{name: "openai", config: &ClientConfig{Provider: ProviderOpenAI, APIKey: "k"}, expectType: "*ai.OpenAIClient"},
		{name: "azure openai", config: &ClientConfig{Provider: ProviderAzureOpenAI, APIKey: "k", Endpoint: "https://x.openai.azure.com"}, expectType: "*ai.OpenAIClient"},
		{name: "stub", config: &ClientConfig{Provider: ProviderStub, Dim: 16}, expectType: "*ai.StubClient"},
		{name: "unsupported", config: &ClientConfig{Provider: "bogus"}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got := reflect.TypeOf(client).String(); got != tt.expectType {
				t.Errorf("Expected %s, got %s", tt.expectType, got)
			}
		})
	}
}

func TestStubClient_Embed(t *testing.T) {
	c := NewStubClient(32)
	if c.Dim() != 32 {
		t.Fatalf("Expected dim 32, got %d", c.Dim())
	}

	a, err := c.Embed(context.Background(), "strawberry anthracnose symptoms")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	b, _ := c.Embed(context.Background(), "strawberry anthracnose symptoms")
	if !reflect.DeepEqual(a, b) {
		t.Error("Expected deterministic embeddings")
	}
	if len(a) != 32 {
		t.Errorf("Expected 32 dims, got %d", len(a))
	}

	var total float32
	for _, v := range a {
		total += v
	}
	if total != 3 {
		t.Errorf("Expected one bucket hit per word (3), got %v", total)
	}
}

func TestStubClient_DefaultDim(t *testing.T) {
	if NewStubClient(0).Dim() != 8 {
		t.Error("Expected default dim 8")
	}
}

func TestStubClient_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStubClient(4).Embed(ctx, "x"); err == nil {
		t.Error("Expected error on cancelled context")
	}
}

func TestStubClientConcurrency(t *testing.T) {
	c := NewStubClient(16)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Embed(context.Background(), "concurrent text"); err != nil {
				t.Errorf("Embed failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestClientInterfaceCompliance(t *testing.T) {
	var _ Client = (*StubClient)(nil)
	var _ Client = (*OpenAIClient)(nil)
	var _ Client = (*VertexAIClient)(nil)
}
