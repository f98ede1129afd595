package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/vidsearch/internal/media"
	"github.com/seanblong/vidsearch/internal/metrics"
	"github.com/seanblong/vidsearch/internal/store"
	"github.com/seanblong/vidsearch/internal/transcribe"
	"github.com/seanblong/vidsearch/pkg/models"
)

var ErrMissingMediaName = errors.New("media name is required")

// DefaultExtensions are the audio and video containers picked up by Run.
var DefaultExtensions = []string{
	".wav", ".mp3", ".m4a", ".aac", ".flac", ".ogg", ".opus",
	".mp4", ".mov", ".mkv", ".webm", ".avi",
}

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// Chunker turns transcript phrases into embedded chunks.
type Chunker interface {
	Chunk(ctx context.Context, phrases []models.Phrase, mediaName string) ([]models.Chunk, error)
}

// Indexer transcribes media items and keeps their chunks in the index.
type Indexer struct {
	Store       store.ChunkStore
	Source      media.Source
	Transcriber transcribe.Transcriber
	Chunker     Chunker
	Walker      FileSystemWalker
	// Extensions lists the file extensions Run indexes, lower case with the dot.
	Extensions []string
	// Workers bounds concurrent IndexMedia calls in Run. Zero picks NumCPU capped at 8.
	Workers int
}

// New creates a new Indexer instance.
func New(s store.ChunkStore, src media.Source, tr transcribe.Transcriber, ch Chunker) *Indexer {
	return &Indexer{
		Store:       s,
		Source:      src,
		Transcriber: tr,
		Chunker:     ch,
		Walker:      &DefaultFileSystemWalker{},
		Extensions:  DefaultExtensions,
	}
}

// IndexMedia transcribes one media item and replaces its chunks in the
// index. It returns the number of chunks written. Nothing is uploaded unless
// every step before the upload succeeds, and an item indexed earlier keeps
// its chunks when the upload fails.
func (ix *Indexer) IndexMedia(ctx context.Context, name string) (n int, err error) {
	defer func() { metrics.ObserveIndexed(err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrMissingMediaName
	}

	rc, err := ix.Source.Open(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = rc.Close() }()

	phrases, err := ix.Transcriber.Transcribe(ctx, rc, name)
	if err != nil {
		return 0, fmt.Errorf("transcribe %s: %w", name, err)
	}
	if len(phrases) == 0 {
		log.Warn().Str("media", name).Msg("transcript has no phrases")
	}

	chunks, err := ix.Chunker.Chunk(ctx, phrases, name)
	if err != nil {
		return 0, fmt.Errorf("chunk %s: %w", name, err)
	}

	// a failed replace keeps the previous chunks of name searchable
	replaced, err := ix.Store.ReplaceMedia(ctx, name, chunks)
	if err != nil {
		return 0, fmt.Errorf("upload %s: %w", name, err)
	}

	log.Info().Str("media", name).
		Int("phrases", len(phrases)).
		Int("chunks", len(chunks)).
		Int("replaced", replaced).
		Msg("indexed media")
	return len(chunks), nil
}

// DeleteMedia removes every chunk of a media item.
func (ix *Indexer) DeleteMedia(ctx context.Context, name string) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrMissingMediaName
	}
	n, err := ix.Store.DeleteMedia(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", name, err)
	}
	log.Info().Str("media", name).Int("deleted", n).Msg("deleted media chunks")
	return n, nil
}

func (ix *Indexer) workers() int {
	if ix.Workers > 0 {
		return ix.Workers
	}
	n := runtime.NumCPU()
	if n > 8 {
		n = 8 // Cap at 8 to avoid overwhelming the transcription API
	}
	return n
}

// Run indexes every media file below root. Media names are the slash
// separated paths relative to root, so ix.Source must resolve them against
// the same directory. A failing item does not stop the walk; the first
// failure is returned once all workers are done.
func (ix *Indexer) Run(ctx context.Context, root string) error {
	numWorkers := ix.workers()
	log.Info().Int("workers", numWorkers).Str("root", root).Msg("starting concurrent indexing")

	workChan := make(chan string, numWorkers*2)
	errorChan := make(chan error, 1)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		indexed int
		failed  int
	)
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")

			for name := range workChan {
				_, err := ix.IndexMedia(ctx, name)
				mu.Lock()
				if err != nil {
					failed++
				} else {
					indexed++
				}
				mu.Unlock()
				if err != nil {
					select {
					case errorChan <- err:
					default:
						log.Error().Err(err).Str("media", name).Msg("indexing failed")
					}
				}
			}

			log.Debug().Int("worker", workerID).Msg("worker finished")
		}(i)
	}

	walkErr := ix.Walker.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				return nil
			}
			if ix.shouldSkip(path) {
				return nil
			}
			select {
			case workChan <- mediaName(root, path):
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})

	close(workChan)
	wg.Wait()
	log.Info().Int("indexed", indexed).Int("failed", failed).Msg("indexing finished")

	select {
	case err := <-errorChan:
		return err
	default:
	}
	return walkErr
}

// shouldSkip returns true if the file at path is not a media file.
func (ix *Indexer) shouldSkip(path string) bool {
	p := filepath.ToSlash(strings.ToLower(path))
	if strings.Contains(p, "/.git/") || strings.Contains(p, "/.cache/") {
		return true
	}
	if strings.HasPrefix(filepath.Base(p), ".") {
		return true
	}
	ext := filepath.Ext(p)
	for _, e := range ix.Extensions {
		if ext == e {
			return false
		}
	}
	return true
}

func mediaName(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(r)
}
