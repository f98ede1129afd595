package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Source opens the recording stored under a media name.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

var ErrOutsideRoot = errors.New("media path escapes the media root")

// FileSource reads media from a local directory.
type FileSource struct {
	Root string
}

func (f FileSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	root, err := filepath.Abs(f.Root)
	if err != nil {
		return nil, err
	}
	p := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s", ErrOutsideRoot, name)
	}
	return os.Open(p)
}

// URLSource downloads media from blob storage, e.g. an Azure container URL
// with an optional SAS token.
type URLSource struct {
	BaseURL  string
	SASToken string
	HTTP     *http.Client
}

func NewURLSource(baseURL, sasToken string) *URLSource {
	return &URLSource{
		BaseURL:  baseURL,
		SASToken: sasToken,
		HTTP:     &http.Client{Timeout: 10 * time.Minute},
	}
}

// BlobURL returns the download URL of name.
func (u *URLSource) BlobURL(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	s := strings.TrimRight(u.BaseURL, "/") + "/" + strings.Join(parts, "/")
	if tok := strings.TrimPrefix(u.SASToken, "?"); tok != "" {
		s += "?" + tok
	}
	return s
}

func (u *URLSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.BlobURL(name), nil)
	if err != nil {
		return nil, err
	}
	hc := u.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download %s: %s", name, resp.Status)
	}
	return resp.Body, nil
}
