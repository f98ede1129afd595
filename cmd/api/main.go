package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/seanblong/vidsearch/internal/api"
	"github.com/seanblong/vidsearch/internal/app"
	"github.com/seanblong/vidsearch/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("vidsearch-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	logger, err := app.SetupLogging(cfg.LogLevel, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
	logger.Info().Str("provider", cfg.Provider).Str("index", cfg.Index).Str("log_level", cfg.LogLevel).Msg("starting vidsearch api")

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	srv := &api.Server{
		Indexer:   a.Indexer,
		Retriever: a.Retriever,
		Media:     a.Store,
		Ready:     a.Ping,
	}

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: srv.Handler(logger)}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	if err := s.ListenAndServe(); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
