package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/seanblong/vidsearch/pkg/models"
)

// OpenAIBackend uses audio.transcriptions with verbose_json to get segment timings.
type OpenAIBackend struct {
	cfg  Config
	http *http.Client
}

func NewOpenAIBackend(cfg Config, hc *http.Client) *OpenAIBackend {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	return &OpenAIBackend{cfg: cfg, http: hc}
}

type verboseTranscription struct {
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (o *OpenAIBackend) Transcribe(ctx context.Context, audio io.Reader, name string) ([]models.Phrase, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", o.cfg.Model); err != nil {
		return nil, err
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, err
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return nil, fmt.Errorf("read audio %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	url := strings.TrimRight(o.cfg.Endpoint, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return nil, readError("openai transcription", resp)
	}

	var vt verboseTranscription
	if err := json.NewDecoder(resp.Body).Decode(&vt); err != nil {
		return nil, fmt.Errorf("decode transcription: %w", err)
	}

	phrases := make([]models.Phrase, 0, len(vt.Segments))
	for _, s := range vt.Segments {
		start := int64(math.Round(s.Start * 1000))
		end := int64(math.Round(s.End * 1000))
		if end < start {
			end = start
		}
		phrases = append(phrases, models.Phrase{Text: s.Text, OffsetMs: start, DurationMs: end - start})
	}
	return phrases, nil
}
