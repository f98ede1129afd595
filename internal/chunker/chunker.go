package chunker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/vidsearch/internal/metrics"
	"github.com/seanblong/vidsearch/pkg/models"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxWords   = 15
	DefaultMaxPhrases = 3
)

var (
	ErrMissingMediaName = errors.New("media name is required")
	ErrInvalidPhrase    = errors.New("invalid phrase")
)

// Embedder turns chunk text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config controls when an accumulating chunk is closed.
type Config struct {
	// MaxWords closes a chunk once its buffered text holds more words than this.
	MaxWords int
	// MaxPhrases closes a chunk once it holds this many phrases. 1 yields one
	// chunk per phrase.
	MaxPhrases int
	// EmbedConcurrency bounds parallel embedding calls. Values below 2 embed serially.
	EmbedConcurrency int
}

// Chunker groups transcript phrases into embeddable chunks.
type Chunker struct {
	Embedder Embedder
	Config   Config
	NewID    func() string
}

// New creates a Chunker, filling unset thresholds with defaults.
func New(e Embedder, cfg Config) *Chunker {
	if cfg.MaxWords <= 0 {
		cfg.MaxWords = DefaultMaxWords
	}
	if cfg.MaxPhrases <= 0 {
		cfg.MaxPhrases = DefaultMaxPhrases
	}
	return &Chunker{
		Embedder: e,
		Config:   cfg,
		NewID:    uuid.NewString,
	}
}

// Chunk splits phrases into chunks for mediaName and embeds each one. Either
// every chunk is returned with its vector or an error is returned.
func (c *Chunker) Chunk(ctx context.Context, phrases []models.Phrase, mediaName string) ([]models.Chunk, error) {
	if strings.TrimSpace(mediaName) == "" {
		return nil, ErrMissingMediaName
	}
	for i, p := range phrases {
		if p.OffsetMs < 0 || p.DurationMs < 0 {
			return nil, fmt.Errorf("%w: phrase %d has negative offset or duration", ErrInvalidPhrase, i)
		}
	}

	chunks := c.Split(phrases, mediaName)
	if err := c.embedAll(ctx, chunks); err != nil {
		return nil, err
	}

	metrics.ChunksEmitted.Add(float64(len(chunks)))
	log.Debug().Str("media", mediaName).Int("phrases", len(phrases)).Int("chunks", len(chunks)).Msg("chunked transcript")
	return chunks, nil
}

// accumulator buffers phrases for the chunk under construction.
type accumulator struct {
	lines   []string
	words   int
	start   string
	started bool
}

func (a *accumulator) add(p models.Phrase, text string) {
	if !a.started {
		a.start = models.FormatTimestamp(p.OffsetMs)
		a.started = true
	}
	a.lines = append(a.lines, text)
	a.words += len(strings.Fields(text))
}

func (a *accumulator) reset() { *a = accumulator{} }

// Split groups phrases into chunks without embedding them. Sequence ids run
// from zero in phrase order.
func (c *Chunker) Split(phrases []models.Phrase, mediaName string) []models.Chunk {
	maxWords, maxPhrases := c.Config.MaxWords, c.Config.MaxPhrases
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	if maxPhrases <= 0 {
		maxPhrases = DefaultMaxPhrases
	}
	newID := c.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	var (
		out  []models.Chunk
		acc  accumulator
		last models.Phrase
	)
	flush := func() {
		out = append(out, models.Chunk{
			ChunkID:    newID(),
			SequenceID: len(out),
			MediaName:  mediaName,
			Text:       strings.Join(acc.lines, "\n"),
			StartTime:  acc.start,
			EndTime:    models.FormatTimestamp(last.EndMs()),
		})
		acc.reset()
	}

	for _, p := range phrases {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		acc.add(p, text)
		last = p
		if acc.words > maxWords || len(acc.lines) >= maxPhrases {
			flush()
		}
	}
	if len(acc.lines) > 0 {
		flush()
	}
	return out
}

func (c *Chunker) embedAll(ctx context.Context, chunks []models.Chunk) error {
	if c.Embedder == nil {
		return errors.New("chunker has no embedder")
	}

	if c.Config.EmbedConcurrency < 2 {
		for i := range chunks {
			if err := c.embed(ctx, &chunks[i]); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Config.EmbedConcurrency)
	for i := range chunks {
		ch := &chunks[i]
		g.Go(func() error { return c.embed(gctx, ch) })
	}
	return g.Wait()
}

func (c *Chunker) embed(ctx context.Context, ch *models.Chunk) error {
	start := time.Now()
	vec, err := c.Embedder.Embed(ctx, ch.Text)
	metrics.ObserveEmbed(start, err)
	if err != nil {
		return fmt.Errorf("embed chunk %d of %s: %w", ch.SequenceID, ch.MediaName, err)
	}
	ch.Vector = vec
	return nil
}
