// Package api exposes indexing and excerpt retrieval over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/seanblong/vidsearch/internal/chunker"
	"github.com/seanblong/vidsearch/internal/indexer"
	"github.com/seanblong/vidsearch/internal/media"
	"github.com/seanblong/vidsearch/internal/search"
)

const (
	indexTimeout = 15 * time.Minute
	queryTimeout = 30 * time.Second
	listTimeout  = 5 * time.Second
)

type Indexer interface {
	IndexMedia(ctx context.Context, name string) (int, error)
	DeleteMedia(ctx context.Context, name string) (int, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, question, mediaName string, seedCount int) (string, error)
}

type MediaLister interface {
	ListMedia(ctx context.Context) ([]string, error)
}

// Server holds the collaborators behind the HTTP routes.
type Server struct {
	Indexer   Indexer
	Retriever Retriever
	Media     MediaLister
	// Ready reports backend health for /healthz. Nil means always healthy.
	Ready func(ctx context.Context) error
}

type mediaRequest struct {
	VideoName string `json:"video_name"`
}

type queryRequest struct {
	Question  string `json:"question"`
	VideoName string `json:"video_name"`
	Top       int    `json:"top,omitempty"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Deleted *int   `json:"deleted,omitempty"`
}

type queryResponse struct {
	Text string `json:"text"`
}

// Routes registers every endpoint on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/index_video", s.indexVideo)
	mux.HandleFunc("/api/delete_video", s.deleteVideo)
	mux.HandleFunc("/api/query_video", s.queryVideo)
	mux.HandleFunc("/api/videos", s.listVideos)
	return mux
}

// Handler wraps Routes with request scoped logging.
func (s *Server) Handler(logger zerolog.Logger) http.Handler {
	return hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(s.Routes()),
	)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Ready(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) indexVideo(w http.ResponseWriter, r *http.Request) {
	var req mediaRequest
	if !decodePost(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.VideoName) == "" {
		http.Error(w, "video_name is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), indexTimeout)
	defer cancel()
	n, err := s.Indexer.IndexMedia(ctx, req.VideoName)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("media", req.VideoName).Msg("indexing failed")
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	hlog.FromRequest(r).Info().Str("media", req.VideoName).Int("chunks", n).Msg("indexed")
	writeJSON(w, r, statusResponse{Status: "Video indexed successfully"})
}

func (s *Server) deleteVideo(w http.ResponseWriter, r *http.Request) {
	var req mediaRequest
	if !decodePost(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.VideoName) == "" {
		http.Error(w, "video_name is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()
	n, err := s.Indexer.DeleteMedia(ctx, req.VideoName)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("media", req.VideoName).Msg("delete failed")
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, r, statusResponse{Status: "Documents deleted successfully", Deleted: &n})
}

func (s *Server) queryVideo(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req queryRequest
	if !decodePost(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.VideoName) == "" {
		http.Error(w, "question and video_name are required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()
	text, err := s.Retriever.Retrieve(ctx, req.Question, req.VideoName, req.Top)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("media", req.VideoName).Msg("retrieval failed")
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, r, queryResponse{Text: text})
	hlog.FromRequest(r).Info().Str("media", req.VideoName).Int("top", req.Top).Int("chars", len(text)).Dur("dur", time.Since(start)).Msg("served")
}

func (s *Server) listVideos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), listTimeout)
	defer cancel()

	names, err := s.Media.ListMedia(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, r, names)
}

func decodePost(w http.ResponseWriter, r *http.Request, into any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(into); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps input errors to 400 and everything else to 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, indexer.ErrMissingMediaName),
		errors.Is(err, search.ErrMissingMediaName),
		errors.Is(err, search.ErrEmptyQuestion),
		errors.Is(err, chunker.ErrMissingMediaName),
		errors.Is(err, chunker.ErrInvalidPhrase),
		errors.Is(err, media.ErrOutsideRoot):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to encode response")
	}
}
