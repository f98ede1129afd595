// Package azsearch stores transcript chunks in an Azure AI Search index.
package azsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/vidsearch/internal/store"
	"github.com/seanblong/vidsearch/pkg/models"
)

const (
	apiVersion = "2024-07-01"
	// pageSize is the largest page the service returns for a filtered scan.
	pageSize = 1000
)

// Config holds the connection settings of the search service.
type Config struct {
	Endpoint string // https://<service>.search.windows.net
	APIKey   string
	Index    string
}

// Client talks to the Azure AI Search REST API.
type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" || cfg.Index == "" {
		return nil, errors.New("azure search requires endpoint and index name")
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: 30 * time.Second}}, nil
}

// document is the index's view of a chunk. The sequence id travels as text.
type document struct {
	Action     string    `json:"@search.action,omitempty"`
	Score      float64   `json:"@search.score,omitempty"`
	ChunkID    string    `json:"chunk_id"`
	SequenceID string    `json:"id,omitempty"`
	MediaName  string    `json:"video_name,omitempty"`
	Text       string    `json:"text,omitempty"`
	StartTime  string    `json:"start_time,omitempty"`
	EndTime    string    `json:"end_time,omitempty"`
	Vector     []float32 `json:"vector,omitempty"`
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s/indexes/%s%s?api-version=%s",
		strings.TrimRight(c.cfg.Endpoint, "/"), url.PathEscape(c.cfg.Index), path, apiVersion)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct{ Error struct{ Message string } }
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error.Message != "" {
			return fmt.Errorf("azure search %s %s: %d: %s", method, path, resp.StatusCode, e.Error.Message)
		}
		return fmt.Errorf("azure search %s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Migrate creates or updates the index definition with an HNSW vector profile.
func (c *Client) Migrate(ctx context.Context, dim int) error {
	field := func(name, typ string, opts map[string]any) map[string]any {
		f := map[string]any{"name": name, "type": typ}
		for k, v := range opts {
			f[k] = v
		}
		return f
	}
	index := map[string]any{
		"name": c.cfg.Index,
		"fields": []map[string]any{
			field("chunk_id", "Edm.String", map[string]any{"key": true, "filterable": true, "analyzer": "keyword"}),
			field("id", "Edm.String", map[string]any{"searchable": true, "sortable": true, "filterable": true}),
			field("video_name", "Edm.String", map[string]any{"searchable": true, "filterable": true, "facetable": true}),
			field("text", "Edm.String", map[string]any{"searchable": true}),
			field("start_time", "Edm.String", map[string]any{"filterable": true, "sortable": true}),
			field("end_time", "Edm.String", map[string]any{"filterable": true, "sortable": true}),
			field("vector", "Collection(Edm.Single)", map[string]any{
				"searchable":          true,
				"dimensions":          dim,
				"vectorSearchProfile": "vector-profile",
			}),
		},
		"vectorSearch": map[string]any{
			"profiles":   []map[string]any{{"name": "vector-profile", "algorithm": "hnsw-config"}},
			"algorithms": []map[string]any{{"name": "hnsw-config", "kind": "hnsw"}},
		},
	}
	return c.do(ctx, http.MethodPut, "", index, nil)
}

type indexBatch struct {
	Value []document `json:"value"`
}

// UpsertChunks uploads chunks, replacing documents with the same chunk id.
func (c *Client) UpsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if _, err := c.upload(ctx, chunks); err != nil {
		return err
	}
	log.Info().Int("documents", len(chunks)).Str("index", c.cfg.Index).Msg("uploaded documents")
	return nil
}

// upload sends chunks in batches and returns the chunk ids of the batches
// the service accepted, including on error.
func (c *Client) upload(ctx context.Context, chunks []models.Chunk) ([]string, error) {
	var done []string
	for start := 0; start < len(chunks); start += pageSize {
		end := min(start+pageSize, len(chunks))
		batch := indexBatch{Value: make([]document, 0, end-start)}
		for _, ch := range chunks[start:end] {
			batch.Value = append(batch.Value, document{
				Action:     "mergeOrUpload",
				ChunkID:    ch.ChunkID,
				SequenceID: strconv.Itoa(ch.SequenceID),
				MediaName:  ch.MediaName,
				Text:       ch.Text,
				StartTime:  ch.StartTime,
				EndTime:    ch.EndTime,
				Vector:     ch.Vector,
			})
		}
		if err := c.do(ctx, http.MethodPost, "/docs/index", batch, nil); err != nil {
			return done, err
		}
		for _, d := range batch.Value {
			done = append(done, d.ChunkID)
		}
	}
	return done, nil
}

// ReplaceMedia uploads chunks first and only then deletes the media's other
// documents. A failed upload withdraws the batches already accepted and
// leaves the previous documents in place.
func (c *Client) ReplaceMedia(ctx context.Context, mediaName string, chunks []models.Chunk) (int, error) {
	uploaded, err := c.upload(ctx, chunks)
	if err != nil {
		if len(uploaded) > 0 {
			if derr := c.deleteIDs(ctx, uploaded); derr != nil {
				log.Warn().Err(derr).Str("media", mediaName).Int("documents", len(uploaded)).
					Msg("failed to withdraw partial upload")
			}
		}
		return 0, err
	}

	keep := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		keep = append(keep, ch.ChunkID)
	}
	stale, err := c.matchingIDs(ctx, store.Filter{MediaName: mediaName, ExcludeChunkIDs: keep}.Expression())
	if err != nil {
		return 0, fmt.Errorf("find stale documents: %w", err)
	}
	if err := c.deleteIDs(ctx, stale); err != nil {
		return 0, fmt.Errorf("delete stale documents: %w", err)
	}
	log.Info().Str("media", mediaName).Int("documents", len(chunks)).Int("replaced", len(stale)).
		Msg("replaced media documents")
	return len(stale), nil
}

type vectorQuery struct {
	Kind   string    `json:"kind"`
	Vector []float32 `json:"vector"`
	K      int       `json:"k"`
	Fields string    `json:"fields"`
}

type searchBody struct {
	Search        string        `json:"search"`
	Filter        string        `json:"filter,omitempty"`
	Top           int           `json:"top"`
	Skip          int           `json:"skip,omitempty"`
	Select        string        `json:"select,omitempty"`
	OrderBy       string        `json:"orderby,omitempty"`
	Facets        []string      `json:"facets,omitempty"`
	VectorQueries []vectorQuery `json:"vectorQueries,omitempty"`
}

type searchResponse struct {
	Value  []document `json:"value"`
	Facets map[string][]struct {
		Value string `json:"value"`
		Count int    `json:"count"`
	} `json:"@search.facets"`
}

const selectFields = "chunk_id,id,video_name,text,start_time,end_time"

// Search runs a hybrid query (text plus vector kNN) or a wildcard lookup.
func (c *Client) Search(ctx context.Context, req store.SearchRequest) ([]models.SearchHit, error) {
	body := searchBody{
		Search: store.Wildcard,
		Filter: req.Filter.Expression(),
		Top:    req.Top,
		Select: selectFields,
	}
	if req.Ranked() {
		body.Search = strings.TrimSpace(req.Text)
	}
	if req.Vector != nil {
		body.VectorQueries = []vectorQuery{{Kind: "vector", Vector: req.Vector, K: max(req.KNN, req.Top), Fields: "vector"}}
	}

	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, "/docs/search", body, &resp); err != nil {
		return nil, err
	}
	hits := make([]models.SearchHit, 0, len(resp.Value))
	for _, d := range resp.Value {
		hits = append(hits, models.SearchHit{
			ChunkID:    d.ChunkID,
			SequenceID: d.SequenceID,
			MediaName:  d.MediaName,
			Text:       d.Text,
			StartTime:  d.StartTime,
			EndTime:    d.EndTime,
			Score:      d.Score,
		})
	}
	return hits, nil
}

// DeleteMedia deletes every document of mediaName.
func (c *Client) DeleteMedia(ctx context.Context, mediaName string) (int, error) {
	ids, err := c.matchingIDs(ctx, store.Filter{MediaName: mediaName}.Expression())
	if err != nil {
		return 0, err
	}
	if err := c.deleteIDs(ctx, ids); err != nil {
		return 0, err
	}
	log.Info().Str("media", mediaName).Int("deleted", len(ids)).Msg("deleted documents")
	return len(ids), nil
}

// matchingIDs pages through every document matching filter and returns the
// distinct chunk ids. The scan finishes before anything is deleted because
// deletions become visible to search only after an index refresh.
func (c *Client) matchingIDs(ctx context.Context, filter string) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	for skip := 0; ; skip += pageSize {
		var resp searchResponse
		err := c.do(ctx, http.MethodPost, "/docs/search", searchBody{
			Search:  store.Wildcard,
			Filter:  filter,
			Top:     pageSize,
			Skip:    skip,
			Select:  "chunk_id",
			OrderBy: "id asc",
		}, &resp)
		if err != nil {
			return nil, err
		}
		for _, d := range resp.Value {
			if !seen[d.ChunkID] {
				seen[d.ChunkID] = true
				ids = append(ids, d.ChunkID)
			}
		}
		if len(resp.Value) < pageSize {
			return ids, nil
		}
	}
}

func (c *Client) deleteIDs(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += pageSize {
		end := min(start+pageSize, len(ids))
		batch := indexBatch{Value: make([]document, 0, end-start)}
		for _, id := range ids[start:end] {
			batch.Value = append(batch.Value, document{Action: "delete", ChunkID: id})
		}
		if err := c.do(ctx, http.MethodPost, "/docs/index", batch, nil); err != nil {
			return err
		}
	}
	return nil
}

// ListMedia returns the distinct media names through a facet query.
func (c *Client) ListMedia(ctx context.Context) ([]string, error) {
	var resp searchResponse
	err := c.do(ctx, http.MethodPost, "/docs/search", searchBody{
		Search: store.Wildcard,
		Top:    0,
		Facets: []string{fmt.Sprintf("video_name,count:%d", pageSize)},
	}, &resp)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, f := range resp.Facets["video_name"] {
		names = append(names, f.Value)
	}
	sort.Strings(names)
	return names, nil
}
