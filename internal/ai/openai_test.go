package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockTransport implements http.RoundTripper for testing
type MockTransport struct {
	mu             sync.RWMutex
	responses      map[string]int
	responseBodies map[string]string
	requests       []*http.Request
	bodies         []string
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		responses:      make(map[string]int),
		responseBodies: make(map[string]string),
	}
}

func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
	}
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)

	key := fmt.Sprintf("%s %s", req.Method, req.URL.String())
	if status, exists := m.responses[key]; exists {
		return &http.Response{
			StatusCode: status,
			Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
			Body:       io.NopCloser(strings.NewReader(m.responseBodies[key])),
			Header:     make(http.Header),
		}, nil
	}

	return &http.Response{
		StatusCode: 500,
		Status:     "500 Internal Server Error",
		Body:       io.NopCloser(strings.NewReader(`{"error": {"message": "Mock not configured"}}`)),
		Header:     make(http.Header),
	}, nil
}

func (m *MockTransport) AddResponse(method, url string, statusCode int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fmt.Sprintf("%s %s", method, url)
	m.responses[key] = statusCode
	m.responseBodies[key] = body
}

// Helper function to create a client with mock transport
func createMockClient(config *ClientConfig, transport *MockTransport) *OpenAIClient {
	client := NewOpenAIClient(config)
	client.http = &http.Client{
		Transport: transport,
		Timeout:   20 * time.Second,
	}
	return client
}

func TestNewOpenAIClient(t *testing.T) {
	tests := []struct {
		name       string
		config     *ClientConfig
		model      string
		dim        int
		apiVersion string
	}{
		{"defaults", &ClientConfig{}, "text-embedding-3-small", 1536, ""},
		{"large model", &ClientConfig{EmbedModel: "text-embedding-3-large"}, "text-embedding-3-large", 3072, ""},
		{"explicit dim", &ClientConfig{Dim: 256}, "text-embedding-3-small", 256, ""},
		{"azure default version", &ClientConfig{Provider: ProviderAzureOpenAI}, "text-embedding-3-small", 1536, defaultAzureAPIVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewOpenAIClient(tt.config)
			if c.config.EmbedModel != tt.model {
				t.Errorf("Expected model %s, got %s", tt.model, c.config.EmbedModel)
			}
			if c.Dim() != tt.dim {
				t.Errorf("Expected dim %d, got %d", tt.dim, c.Dim())
			}
			if c.config.APIVersion != tt.apiVersion {
				t.Errorf("Expected api version %q, got %q", tt.apiVersion, c.config.APIVersion)
			}
		})
	}
}

func TestOpenAIClient_Embed(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse("POST", "https://api.openai.com/v1/embeddings", 200,
		`{"data":[{"embedding":[0.1,0.2,0.3]}]}`)

	c := createMockClient(&ClientConfig{APIKey: "sk-proj-abc", ProjectID: "proj"}, transport)
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if !reflect.DeepEqual(vec, []float32{0.1, 0.2, 0.3}) {
		t.Errorf("Unexpected vector %v", vec)
	}

	req := transport.requests[0]
	if req.Header.Get("Authorization") != "Bearer sk-proj-abc" {
		t.Errorf("Unexpected auth header %q", req.Header.Get("Authorization"))
	}
	if req.Header.Get("OpenAI-Project") != "proj" {
		t.Errorf("Expected project header, got %q", req.Header.Get("OpenAI-Project"))
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(transport.bodies[0]), &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload["input"] != "hello" || payload["model"] != "text-embedding-3-small" {
		t.Errorf("Unexpected payload %v", payload)
	}
	if _, ok := payload["dimensions"]; ok {
		t.Errorf("Default dimension should not be sent: %v", payload)
	}
}

func TestOpenAIClient_EmbedDimensions(t *testing.T) {
	tests := []struct {
		name     string
		config   *ClientConfig
		url      string
		expected any
	}{
		{"openai explicit", &ClientConfig{APIKey: "k", Dim: 256}, "https://api.openai.com/v1/embeddings", float64(256)},
		{"openai default", &ClientConfig{APIKey: "k"}, "https://api.openai.com/v1/embeddings", nil},
		{
			"azure explicit",
			&ClientConfig{APIKey: "k", Dim: 512, Provider: ProviderAzureOpenAI, Endpoint: "https://res.openai.azure.com", EmbedModel: "emb"},
			"https://res.openai.azure.com/openai/deployments/emb/embeddings?api-version=" + defaultAzureAPIVersion,
			float64(512),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewMockTransport()
			transport.AddResponse("POST", tt.url, 200, `{"data":[{"embedding":[0.1]}]}`)
			c := createMockClient(tt.config, transport)
			if _, err := c.Embed(context.Background(), "hello"); err != nil {
				t.Fatalf("Embed failed: %v", err)
			}
			var payload map[string]any
			if err := json.Unmarshal([]byte(transport.bodies[0]), &payload); err != nil {
				t.Fatalf("bad payload: %v", err)
			}
			if payload["dimensions"] != tt.expected {
				t.Errorf("Expected dimensions %v, got %v", tt.expected, payload["dimensions"])
			}
		})
	}
}

func TestOpenAIClient_EmbedAzure(t *testing.T) {
	transport := NewMockTransport()
	url := "https://res.openai.azure.com/openai/deployments/embed-large/embeddings?api-version=2024-10-21"
	transport.AddResponse("POST", url, 200, `{"data":[{"embedding":[1,2]}]}`)

	c := createMockClient(&ClientConfig{
		Provider:   ProviderAzureOpenAI,
		APIKey:     "azure-key",
		EmbedModel: "embed-large",
		Endpoint:   "https://res.openai.azure.com/",
	}, transport)

	vec, err := c.Embed(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if !reflect.DeepEqual(vec, []float32{1, 2}) {
		t.Errorf("Unexpected vector %v", vec)
	}
	req := transport.requests[0]
	if req.Header.Get("api-key") != "azure-key" {
		t.Errorf("Expected api-key header, got %q", req.Header.Get("api-key"))
	}
	if req.Header.Get("Authorization") != "" {
		t.Error("Expected no bearer header for azure")
	}
	if strings.Contains(transport.bodies[0], "model") {
		t.Errorf("Azure payload should not carry a model: %s", transport.bodies[0])
	}
}

func TestOpenAIClient_EmbedErrors(t *testing.T) {
	tests := []struct {
		name   string
		config *ClientConfig
		status int
		body   string
		errMsg string
	}{
		{"missing key", &ClientConfig{}, 200, "", "PROVIDER_API_KEY unset"},
		{"azure missing endpoint", &ClientConfig{Provider: ProviderAzureOpenAI, APIKey: "k"}, 200, "", "endpoint unset"},
		{"api error message", &ClientConfig{APIKey: "k"}, 401, `{"error":{"message":"bad key"}}`, "bad key"},
		{"non-200 without message", &ClientConfig{APIKey: "k"}, 503, `oops`, "non-200"},
		{"no data", &ClientConfig{APIKey: "k"}, 200, `{"data":[]}`, "no embedding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewMockTransport()
			transport.AddResponse("POST", "https://api.openai.com/v1/embeddings", tt.status, tt.body)
			c := createMockClient(tt.config, transport)
			_, err := c.Embed(context.Background(), "x")
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got %v", tt.errMsg, err)
			}
		})
	}
}

func TestOpenAIClient_CustomEndpoint(t *testing.T) {
	c := NewOpenAIClient(&ClientConfig{Endpoint: "http://localhost:8080/v1/"})
	if got := c.embeddingsURL(); got != "http://localhost:8080/v1/embeddings" {
		t.Errorf("Unexpected url %s", got)
	}
}
