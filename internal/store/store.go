package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/vidsearch/pkg/models"
)

// ChunkStore is the index that transcript chunks are written to and searched in.
type ChunkStore interface {
	Migrate(ctx context.Context, dim int) error
	UpsertChunks(ctx context.Context, chunks []models.Chunk) error
	// ReplaceMedia makes chunks the only chunks of mediaName and returns how
	// many prior chunks were removed. On error the prior chunks survive.
	ReplaceMedia(ctx context.Context, mediaName string, chunks []models.Chunk) (int, error)
	Search(ctx context.Context, req SearchRequest) ([]models.SearchHit, error)
	DeleteMedia(ctx context.Context, mediaName string) (int, error)
	ListMedia(ctx context.Context) ([]string, error)
}

// Store is a ChunkStore backed by Postgres with pgvector.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate creates the chunk table and its indexes.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS transcript_chunks (
  chunk_id    TEXT PRIMARY KEY,
  media_name  TEXT NOT NULL,
  sequence_id INT  NOT NULL,
  text        TEXT NOT NULL,
  start_time  TEXT NOT NULL,
  end_time    TEXT NOT NULL,
  vector      vector(%d),
  created_at  TIMESTAMP WITH TIME ZONE DEFAULT now(),
  ts_text     tsvector GENERATED ALWAYS AS (to_tsvector('english', coalesce(text,''))) STORED
);

CREATE UNIQUE INDEX IF NOT EXISTS transcript_chunks_media_seq_uidx
  ON transcript_chunks (media_name, sequence_id);

CREATE INDEX IF NOT EXISTS transcript_chunks_ts_gin
  ON transcript_chunks USING GIN (ts_text);

CREATE INDEX IF NOT EXISTS transcript_chunks_vector_idx
  ON transcript_chunks USING ivfflat (vector vector_cosine_ops) WITH (lists = 100);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

const upsertChunkSQL = `
	INSERT INTO transcript_chunks (
		chunk_id, media_name, sequence_id, text, start_time, end_time, vector, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7, now())
	ON CONFLICT (media_name, sequence_id) DO UPDATE SET
		chunk_id   = EXCLUDED.chunk_id,
		text       = EXCLUDED.text,
		start_time = EXCLUDED.start_time,
		end_time   = EXCLUDED.end_time,
		vector     = EXCLUDED.vector,
		created_at = now();`

func queueChunks(batch *pgx.Batch, chunks []models.Chunk) {
	for _, c := range chunks {
		var v any
		if c.Vector != nil {
			v = pgvector.NewVector(c.Vector)
		} else {
			v = (*pgvector.Vector)(nil)
		}
		batch.Queue(upsertChunkSQL, c.ChunkID, c.MediaName, c.SequenceID, c.Text, c.StartTime, c.EndTime, v)
	}
}

// UpsertChunks writes chunks in one transaction. A chunk that reuses a
// (media, sequence) slot replaces the previous occupant.
func (s *Store) UpsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	queueChunks(batch, chunks)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}
	return tx.Commit(ctx)
}

// ReplaceMedia deletes the media's rows and inserts chunks in the same
// transaction, so readers see either the old or the new transcript.
func (s *Store) ReplaceMedia(ctx context.Context, mediaName string, chunks []models.Chunk) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM transcript_chunks WHERE media_name = $1`, mediaName)
	if err != nil {
		return 0, fmt.Errorf("clear media: %w", err)
	}
	if len(chunks) > 0 {
		batch := &pgx.Batch{}
		queueChunks(batch, chunks)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, fmt.Errorf("insert chunks: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// whereClause renders f as SQL over columns prefixed with prefix, appending
// its parameters to args.
func whereClause(prefix string, f Filter, args []any) (string, []any) {
	where := "TRUE"
	if f.MediaName != "" {
		args = append(args, f.MediaName)
		where += fmt.Sprintf(" AND %smedia_name = $%d", prefix, len(args))
	}
	if ids := f.SortedIDs(); len(ids) > 0 {
		args = append(args, ids)
		where += fmt.Sprintf(" AND %ssequence_id = ANY($%d::int[])", prefix, len(args))
	}
	if len(f.ExcludeChunkIDs) > 0 {
		args = append(args, f.ExcludeChunkIDs)
		where += fmt.Sprintf(" AND %schunk_id <> ALL($%d::text[])", prefix, len(args))
	}
	return where, args
}

// Search runs either a hybrid ranked query (vector kNN blended with full-text
// rank) or, for wildcard text, an unranked filtered lookup in sequence order.
func (s *Store) Search(ctx context.Context, req SearchRequest) ([]models.SearchHit, error) {
	top := req.Top
	if top <= 0 {
		return []models.SearchHit{}, nil
	}

	var (
		q    string
		args []any
	)
	if !req.Ranked() {
		var where string
		where, args = whereClause("", req.Filter, nil)
		q = fmt.Sprintf(`
SELECT chunk_id, sequence_id, media_name, text, start_time, end_time, 0::float8 AS score
FROM transcript_chunks
WHERE %s
ORDER BY sequence_id
LIMIT %d;`, where, top)
	} else {
		var sv any
		if req.Vector != nil {
			sv = pgvector.NewVector(req.Vector)
		} else {
			sv = (*pgvector.Vector)(nil)
		}
		knn := req.KNN
		if knn < top {
			knn = top
		}
		args = []any{sv, strings.TrimSpace(req.Text)}
		var knnWhere, candWhere string
		knnWhere, args = whereClause("", req.Filter, args)
		// Reuse the same placeholders for the candidate scan.
		candWhere, _ = whereClause("c.", req.Filter, []any{sv, req.Text})

		q = fmt.Sprintf(`
WITH q AS (
  SELECT $1::vector AS sv, websearch_to_tsquery('english', $2) AS tq
),
knn AS (
  SELECT chunk_id
  FROM transcript_chunks
  WHERE %s AND vector IS NOT NULL AND (SELECT sv FROM q) IS NOT NULL
  ORDER BY vector <=> (SELECT sv FROM q)
  LIMIT %d
),
cand AS (
  SELECT
    c.chunk_id, c.sequence_id, c.media_name, c.text, c.start_time, c.end_time,
    CASE WHEN k.chunk_id IS NULL THEN 0
         ELSE LEAST(GREATEST(1.0 - (c.vector <=> (SELECT sv FROM q)), 0), 1)
    END AS sem_sim,
    LEAST(GREATEST(ts_rank_cd(c.ts_text, (SELECT tq FROM q)), 0), 1) AS lex
  FROM transcript_chunks c
  LEFT JOIN knn k ON k.chunk_id = c.chunk_id
  WHERE %s AND (k.chunk_id IS NOT NULL OR c.ts_text @@ (SELECT tq FROM q))
),
ranked AS (
  SELECT *,
         MAX(sem_sim) OVER() AS max_sem,
         MAX(lex)     OVER() AS max_lex
  FROM cand
)
SELECT
  chunk_id, sequence_id, media_name, text, start_time, end_time,
  (
      0.80 * COALESCE(sem_sim / NULLIF(max_sem,0), 0) +
      0.20 * COALESCE(lex     / NULLIF(max_lex,0), 0)
  ) AS score
FROM ranked
ORDER BY score DESC, sequence_id
LIMIT %d;`, knnWhere, knn, candWhere, top)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.SearchHit{}
	for rows.Next() {
		var (
			h   models.SearchHit
			seq int
		)
		if err := rows.Scan(&h.ChunkID, &seq, &h.MediaName, &h.Text, &h.StartTime, &h.EndTime, &h.Score); err != nil {
			return nil, err
		}
		h.SequenceID = strconv.Itoa(seq)
		out = append(out, h)
	}
	return out, rows.Err()
}

// DeleteMedia removes every chunk of a media item.
func (s *Store) DeleteMedia(ctx context.Context, mediaName string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transcript_chunks WHERE media_name = $1`, mediaName)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListMedia returns every media name with at least one chunk.
func (s *Store) ListMedia(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT media_name FROM transcript_chunks ORDER BY media_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
