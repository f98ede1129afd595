package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seanblong/vidsearch/pkg/models"
)

// Transcriber turns an audio stream into ordered phrases.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, name string) ([]models.Phrase, error)
}

// Provider is enumeration of supported transcription backends
type Provider string

const (
	ProviderAzure  Provider = "azure"
	ProviderOpenAI Provider = "openai"
	ProviderJSON   Provider = "json"
)

// Config holds configuration for transcription backends.
type Config struct {
	Provider Provider
	// Endpoint is the service base URL, e.g. https://name.cognitiveservices.azure.com.
	Endpoint string
	APIKey   string
	Model    string
	// Locales lists candidate languages for Azure fast transcription.
	Locales         []string
	ProfanityFilter string
	Timeout         time.Duration
}

// New creates the transcriber selected by cfg.Provider.
func New(cfg Config) (Transcriber, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	hc := &http.Client{Timeout: cfg.Timeout}

	switch cfg.Provider {
	case ProviderAzure:
		if cfg.Endpoint == "" || cfg.APIKey == "" {
			return nil, errors.New("azure transcription requires endpoint and key")
		}
		return NewAzureBackend(cfg, hc), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("openai transcription requires an api key")
		}
		return NewOpenAIBackend(cfg, hc), nil
	case ProviderJSON:
		return JSONBackend{}, nil
	default:
		return nil, fmt.Errorf("unsupported transcriber: %q", cfg.Provider)
	}
}

// fastTranscription is the response document of Azure fast transcription.
type fastTranscription struct {
	Phrases []models.Phrase `json:"phrases"`
}

// JSONBackend reads an already transcribed fast-transcription document from
// the audio stream.
type JSONBackend struct{}

func (JSONBackend) Transcribe(ctx context.Context, audio io.Reader, name string) ([]models.Phrase, error) {
	var doc fastTranscription
	if err := json.NewDecoder(audio).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode transcript %s: %w", name, err)
	}
	return doc.Phrases, nil
}

// readError builds an error from a non-success response.
func readError(service string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s http %d: %s", service, resp.StatusCode, string(b))
}
