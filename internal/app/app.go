// Package app wires configuration into the indexing and retrieval services
// shared by the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/vidsearch/internal/ai"
	"github.com/seanblong/vidsearch/internal/azsearch"
	"github.com/seanblong/vidsearch/internal/chunker"
	"github.com/seanblong/vidsearch/internal/config"
	"github.com/seanblong/vidsearch/internal/indexer"
	"github.com/seanblong/vidsearch/internal/media"
	"github.com/seanblong/vidsearch/internal/search"
	"github.com/seanblong/vidsearch/internal/store"
	"github.com/seanblong/vidsearch/internal/transcribe"
)

// App holds the services built from one configuration.
type App struct {
	Store     store.ChunkStore
	Embedder  ai.Client
	Indexer   *indexer.Indexer
	Retriever *search.Retriever
	// Ping checks the index backend. Nil when the backend has no cheap health check.
	Ping func(ctx context.Context) error

	closers []func()
}

// SetupLogging configures the global zerolog logger and returns it.
func SetupLogging(level string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if w == nil {
		w = os.Stdout
	}
	zerolog.SetGlobalLevel(lvl)
	logger := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	log.Logger = logger
	return logger, nil
}

// ClientConfig maps the embedding provider settings.
func ClientConfig(cfg config.Specification) (*ai.ClientConfig, error) {
	cc := &ai.ClientConfig{
		APIKey:     cfg.APIKey,
		EmbedModel: cfg.EmbedModel,
		Dim:        cfg.Dim,
		ProjectID:  cfg.ProjectID,
		Location:   cfg.Location,
		Endpoint:   cfg.Endpoint,
		APIVersion: cfg.APIVersion,
	}
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		cc.Provider = ai.ProviderOpenAI
	case "azureopenai", "azure":
		cc.Provider = ai.ProviderAzureOpenAI
	case "vertexai", "google":
		cc.Provider = ai.ProviderVertexAI
	case "stub":
		cc.Provider = ai.ProviderStub
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	return cc, nil
}

// TranscriberConfig maps the transcription settings.
func TranscriberConfig(cfg config.Specification) transcribe.Config {
	return transcribe.Config{
		Provider:        transcribe.Provider(strings.ToLower(cfg.Transcriber.Provider)),
		Endpoint:        cfg.Transcriber.Endpoint,
		APIKey:          cfg.Transcriber.APIKey,
		Model:           cfg.Transcriber.Model,
		Locales:         cfg.Transcriber.Locales,
		ProfanityFilter: cfg.Transcriber.ProfanityFilter,
	}
}

// Source picks blob storage when a base URL is set and the media root otherwise.
func Source(cfg config.Specification) media.Source {
	if cfg.MediaBaseURL != "" {
		return media.NewURLSource(cfg.MediaBaseURL, cfg.MediaSASToken)
	}
	return media.FileSource{Root: cfg.MediaRoot}
}

// New connects the index backend, migrates its schema and builds the services.
func New(ctx context.Context, cfg config.Specification) (*App, error) {
	cc, err := ClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := ai.NewClient(cc)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	if client.Dim() == 0 {
		return nil, errors.New("embedding dimension must be set")
	}

	tr, err := transcribe.New(TranscriberConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create transcriber: %w", err)
	}

	a := &App{Embedder: client}
	switch cfg.Index {
	case config.IndexAzure:
		c, err := azsearch.New(azsearch.Config{
			Endpoint: cfg.AzureSearch.Endpoint,
			APIKey:   cfg.AzureSearch.APIKey,
			Index:    cfg.AzureSearch.Index,
		})
		if err != nil {
			return nil, err
		}
		a.Store = c
	default:
		st, err := store.New(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.Store = st
		a.Ping = st.Ping
		a.closers = append(a.closers, st.Close)
	}

	if err := a.Store.Migrate(ctx, client.Dim()); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate index: %w", err)
	}
	log.Info().Str("index", cfg.Index).Str("provider", cfg.Provider).Int("embedding_dim", client.Dim()).Msg("index ready")

	ch := chunker.New(client, chunker.Config{
		MaxWords:         cfg.ChunkMaxWords,
		MaxPhrases:       cfg.ChunkMaxPhrases,
		EmbedConcurrency: cfg.EmbedConcurrency,
	})
	a.Indexer = indexer.New(a.Store, Source(cfg), tr, ch)
	if strings.EqualFold(cfg.Transcriber.Provider, string(transcribe.ProviderJSON)) {
		// pre-made transcripts sit next to the media as JSON
		a.Indexer.Extensions = append(append([]string{}, indexer.DefaultExtensions...), ".json")
	}
	a.Retriever = search.NewRetriever(client, a.Store, search.Config{
		SeedCount:        cfg.SeedCount,
		NeighborFallback: cfg.NeighborFallback,
	})
	return a, nil
}

// Close releases backend connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
