package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/vidsearch/internal/metrics"
	"github.com/seanblong/vidsearch/internal/store"
	"github.com/seanblong/vidsearch/pkg/models"
)

const (
	DefaultSeedCount = 2

	// ExcerptHeader opens every non-empty excerpt.
	ExcerptHeader = "Relevant transcript excerpts:\n\n"
	// Separator marks a break in transcript contiguity.
	Separator = "[...]\n\n"
)

var (
	ErrMissingMediaName = errors.New("media name is required")
	ErrEmptyQuestion    = errors.New("question is required")
)

// Embedder turns the question into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchIndex answers ranked and filtered lookups over indexed chunks.
type SearchIndex interface {
	Search(ctx context.Context, req store.SearchRequest) ([]models.SearchHit, error)
}

// Config tunes retrieval.
type Config struct {
	SeedCount int
	// NeighborFallback renders seeds alone when the neighbour lookup fails
	// instead of failing the retrieval.
	NeighborFallback bool
}

// Retriever expands ranked seed hits with their adjacent chunks.
type Retriever struct {
	Embedder Embedder
	Index    SearchIndex
	Config   Config
}

// NewRetriever creates a Retriever over the given collaborators.
func NewRetriever(e Embedder, idx SearchIndex, cfg Config) *Retriever {
	if cfg.SeedCount <= 0 {
		cfg.SeedCount = DefaultSeedCount
	}
	return &Retriever{Embedder: e, Index: idx, Config: cfg}
}

// Retrieve returns a formatted excerpt of mediaName relevant to question.
// seedCount <= 0 uses the configured default. No matches yields "".
func (r *Retriever) Retrieve(ctx context.Context, question, mediaName string, seedCount int) (text string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveRetrieve(start, err) }()

	hits, err := r.Expand(ctx, question, mediaName, seedCount)
	if err != nil {
		return "", err
	}
	return Render(hits), nil
}

// Expand performs the seed search and neighbour expansion, returning chunks
// in emission order: for each seed, its predecessor, itself, its successor.
func (r *Retriever) Expand(ctx context.Context, question, mediaName string, seedCount int) ([]models.SearchHit, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if strings.TrimSpace(mediaName) == "" {
		return nil, ErrMissingMediaName
	}
	if seedCount <= 0 {
		seedCount = r.Config.SeedCount
	}
	if seedCount <= 0 {
		seedCount = DefaultSeedCount
	}

	vec, err := r.Embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	seeds, err := r.Index.Search(ctx, store.SearchRequest{
		Text:   question,
		Vector: vec,
		KNN:    seedCount * 3,
		Top:    seedCount,
		Filter: store.Filter{MediaName: mediaName},
	})
	if err != nil {
		return nil, fmt.Errorf("seed search: %w", err)
	}
	if len(seeds) == 0 {
		log.Debug().Str("media", mediaName).Msg("no seed hits")
		return nil, nil
	}

	candidates := neighborIDs(seeds)
	neighbors := map[int]models.SearchHit{}
	if len(candidates) > 0 {
		docs, err := r.Index.Search(ctx, store.SearchRequest{
			Text:   store.Wildcard,
			Top:    len(candidates),
			Filter: store.Filter{MediaName: mediaName, SequenceIDs: candidates},
		})
		switch {
		case err != nil && r.Config.NeighborFallback:
			log.Warn().Err(err).Str("media", mediaName).Msg("neighbor search failed, rendering seeds only")
		case err != nil:
			return nil, fmt.Errorf("neighbor search: %w", err)
		default:
			for _, d := range docs {
				if id, ok := parseSequenceID(d); ok {
					neighbors[id] = d
				}
			}
		}
	}

	return merge(seeds, neighbors), nil
}

func parseSequenceID(h models.SearchHit) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(h.SequenceID))
	if err != nil {
		return 0, false
	}
	return id, true
}

// neighborIDs collects the ids adjacent to each seed, sorted. Seeds without a
// numeric id are skipped.
func neighborIDs(seeds []models.SearchHit) []int {
	set := map[int]struct{}{}
	for _, s := range seeds {
		id, ok := parseSequenceID(s)
		if !ok {
			log.Warn().Str("chunk_id", s.ChunkID).Str("sequence_id", s.SequenceID).Msg("non-numeric sequence id, skipping neighbor expansion")
			continue
		}
		if id > 0 {
			set[id-1] = struct{}{}
		}
		set[id+1] = struct{}{}
	}
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func merge(seeds []models.SearchHit, neighbors map[int]models.SearchHit) []models.SearchHit {
	var out []models.SearchHit
	emitted := map[string]bool{}
	emit := func(h models.SearchHit, origin string) {
		if emitted[h.ChunkID] {
			return
		}
		emitted[h.ChunkID] = true
		metrics.RetrievedChunks.WithLabelValues(origin).Inc()
		out = append(out, h)
	}

	for _, s := range seeds {
		id, ok := parseSequenceID(s)
		if ok {
			if prev, found := neighbors[id-1]; found {
				emit(prev, "neighbor")
			}
		}
		emit(s, "seed")
		if ok {
			if next, found := neighbors[id+1]; found {
				emit(next, "neighbor")
			}
		}
	}
	return out
}

// Render formats hits as an excerpt, inserting Separator wherever a chunk
// does not directly follow the one before it.
func Render(hits []models.SearchHit) string {
	if len(hits) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(ExcerptHeader)
	prev, havePrev := 0, false
	for i, h := range hits {
		id, ok := parseSequenceID(h)
		if i > 0 && (!ok || !havePrev || id != prev+1) {
			b.WriteString(Separator)
		}
		prev, havePrev = id, ok
		fmt.Fprintf(&b, "[%s - %s]\n%s\n\n", h.StartTime, h.EndTime, h.Text)
	}
	return b.String()
}
