package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"resumerag/types"
)

// NewPostgresPool connects and pings the database.
func NewPostgresPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PgVectorIndex stores every namespace in one pgvector table keyed by
// (namespace, id).
type PgVectorIndex struct {
	pool  *pgxpool.Pool
	table string
}

func NewPgVectorIndex(pool *pgxpool.Pool, table string) *PgVectorIndex {
	return &PgVectorIndex{
		pool:  pool,
		table: pgx.Identifier{table}.Sanitize(),
	}
}

func (p *PgVectorIndex) EnsureIndex(ctx context.Context, dimension int) error {
	var exists bool
	err := p.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", p.table).Scan(&exists)
	if err != nil {
		return &types.IndexError{Op: "list", Err: err}
	}
	if exists {
		return nil
	}

	log.Printf("[PGVECTOR] creating table %s (dimension %d, cosine)", p.table, dimension)
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS %[1]s (
		namespace TEXT NOT NULL,
		id TEXT NOT NULL,
		embedding vector(%[2]d) NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		PRIMARY KEY (namespace, id)
	);

	CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s USING hnsw (embedding vector_cosine_ops);
	CREATE INDEX IF NOT EXISTS %[4]s ON %[1]s (namespace);
	`, p.table, dimension,
		pgx.Identifier{indexName(p.table, "embedding")}.Sanitize(),
		pgx.Identifier{indexName(p.table, "namespace")}.Sanitize(),
	)
	if _, err := p.pool.Exec(ctx, query); err != nil {
		return &types.IndexError{Op: "create", Err: err}
	}
	return nil
}

func (p *PgVectorIndex) Upsert(ctx context.Context, namespace string, records []types.Record) error {
	query := fmt.Sprintf(`
	INSERT INTO %s (namespace, id, embedding, metadata)
	VALUES ($1, $2, $3, $4::jsonb)
	ON CONFLICT (namespace, id) DO UPDATE SET
		embedding = EXCLUDED.embedding,
		metadata = EXCLUDED.metadata
	`, p.table)

	batch := &pgx.Batch{}
	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return &types.IndexError{Op: "upsert", Namespace: namespace, Err: err}
		}
		batch.Queue(query, namespace, r.ID, pgvector.NewVector(r.Vector), string(meta))
	}

	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return &types.IndexError{Op: "upsert", Namespace: namespace, Err: err}
	}
	return nil
}

func (p *PgVectorIndex) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]types.Match, error) {
	if len(vector) == 0 {
		return nil, &types.IndexError{Op: "query", Namespace: namespace, Err: fmt.Errorf("empty query vector")}
	}

	query := fmt.Sprintf(`
		SELECT id, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE namespace = $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`, p.table)
	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(vector), namespace, topK)
	if err != nil {
		return nil, &types.IndexError{Op: "query", Namespace: namespace, Err: err}
	}
	defer rows.Close()

	var matches []types.Match
	for rows.Next() {
		var (
			m    types.Match
			meta []byte
		)
		if err := rows.Scan(&m.ID, &meta, &m.Score); err != nil {
			return nil, &types.IndexError{Op: "query", Namespace: namespace, Err: err}
		}
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, &types.IndexError{Op: "query", Namespace: namespace, Err: err}
		}
		m.Namespace = namespace
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.IndexError{Op: "query", Namespace: namespace, Err: err}
	}
	return matches, nil
}

func (p *PgVectorIndex) DeleteNamespace(ctx context.Context, namespace string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE namespace = $1", p.table)
	if _, err := p.pool.Exec(ctx, query, namespace); err != nil {
		return &types.IndexError{Op: "delete", Namespace: namespace, Err: err}
	}
	return nil
}

func (p *PgVectorIndex) DescribeStats(ctx context.Context) (types.IndexStats, error) {
	query := fmt.Sprintf("SELECT namespace, count(*) FROM %s GROUP BY namespace", p.table)
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return types.IndexStats{}, &types.IndexError{Op: "stats", Err: err}
	}
	defer rows.Close()

	stats := types.IndexStats{Dimension: types.Dimension, Namespaces: make(map[string]int)}
	for rows.Next() {
		var (
			ns    string
			count int
		)
		if err := rows.Scan(&ns, &count); err != nil {
			return types.IndexStats{}, &types.IndexError{Op: "stats", Err: err}
		}
		stats.Namespaces[ns] = count
	}
	if err := rows.Err(); err != nil {
		return types.IndexStats{}, &types.IndexError{Op: "stats", Err: err}
	}
	return stats, nil
}

// Close is a no-op; the pool is owned by the caller.
func (p *PgVectorIndex) Close() error {
	return nil
}

func indexName(table, suffix string) string {
	return fmt.Sprintf("%s_%s_idx", trimQuotes(table), suffix)
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
