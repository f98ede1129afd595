package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/vidsearch/pkg/models"
)

const azureAPIVersion = "2024-11-15"

// AzureBackend calls Azure AI Speech fast transcription.
type AzureBackend struct {
	cfg  Config
	http *http.Client
}

func NewAzureBackend(cfg Config, hc *http.Client) *AzureBackend {
	if len(cfg.Locales) == 0 {
		cfg.Locales = []string{"en-US"}
	}
	if cfg.ProfanityFilter == "" {
		cfg.ProfanityFilter = "Masked"
	}
	return &AzureBackend{cfg: cfg, http: hc}
}

func (a *AzureBackend) url() string {
	return strings.TrimRight(a.cfg.Endpoint, "/") +
		"/speechtotext/transcriptions:transcribe?api-version=" + azureAPIVersion
}

func (a *AzureBackend) Transcribe(ctx context.Context, audio io.Reader, name string) ([]models.Phrase, error) {
	start := time.Now()

	definition, err := json.Marshal(map[string]any{
		"locales":             a.cfg.Locales,
		"profanityFilterMode": a.cfg.ProfanityFilter,
	})
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return nil, fmt.Errorf("read audio %s: %w", name, err)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="definition"`)
	h.Set("Content-Type", "application/json")
	dw, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := dw.Write(definition); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url(), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", a.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, readError("azure transcription", resp)
	}

	var doc fastTranscription
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode transcription: %w", err)
	}
	log.Info().Str("media", name).Int("phrases", len(doc.Phrases)).Dur("dur", time.Since(start)).Msg("transcribed")
	return doc.Phrases, nil
}
