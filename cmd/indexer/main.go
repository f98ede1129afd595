package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/seanblong/vidsearch/internal/app"
	"github.com/seanblong/vidsearch/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("vidsearch-indexer", pflag.ExitOnError)
	mediaName := fs.String("media", "", "Index a single media item by name")
	deleteMedia := fs.Bool("delete", false, "Delete the chunks of --media instead of indexing it")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	logger, err := app.SetupLogging(cfg.LogLevel, os.Stderr)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	switch {
	case *deleteMedia:
		if *mediaName == "" {
			logger.Fatal().Msg("--delete requires --media")
		}
		n, err := a.Indexer.DeleteMedia(ctx, *mediaName)
		if err != nil {
			logger.Fatal().Err(err).Msg("delete failed")
		}
		fmt.Printf("deleted %d chunks of %s\n", n, *mediaName)
	case *mediaName != "":
		n, err := a.Indexer.IndexMedia(ctx, *mediaName)
		if err != nil {
			logger.Fatal().Err(err).Msg("indexing failed")
		}
		fmt.Printf("indexed %d chunks of %s\n", n, *mediaName)
	default:
		if cfg.MediaBaseURL != "" {
			logger.Fatal().Msg("walking media requires a local --media-root; use --media with a blob source")
		}
		if err := a.Indexer.Run(ctx, cfg.MediaRoot); err != nil {
			logger.Fatal().Err(err).Msg("indexing failed")
		}
	}
}
