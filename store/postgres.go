package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"resumerag/types"
)

// PostgresCatalog keeps the catalog next to the pgvector table.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

func NewPostgresCatalog(ctx context.Context, pool *pgxpool.Pool) (*PostgresCatalog, error) {
	c := &PostgresCatalog{pool: pool}
	if err := c.createCatalogTables(ctx); err != nil {
		return nil, fmt.Errorf("creating catalog tables: %w", err)
	}
	return c, nil
}

func (c *PostgresCatalog) createCatalogTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS rag_documents (
		filename TEXT PRIMARY KEY,
		namespace TEXT NOT NULL UNIQUE,
		num_vectors INTEGER NOT NULL,
		indexed_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rag_counters (
		name TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	);

	INSERT INTO rag_counters (name, value) VALUES ('next_namespace', 0)
	ON CONFLICT (name) DO NOTHING;

	CREATE TABLE IF NOT EXISTS rag_sections (
		id BIGSERIAL PRIMARY KEY,
		label TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS rag_sections_label_lower ON rag_sections (lower(label));
	`
	_, err := c.pool.Exec(ctx, query)
	return err
}

func (c *PostgresCatalog) NextNamespace(ctx context.Context) (int, error) {
	var value int
	err := c.pool.QueryRow(ctx,
		"UPDATE rag_counters SET value = value + 1 WHERE name = 'next_namespace' RETURNING value",
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("incrementing namespace counter: %w", err)
	}
	return value - 1, nil
}

func (c *PostgresCatalog) Put(ctx context.Context, doc types.Document) error {
	query := `INSERT INTO rag_documents (filename, namespace, num_vectors, indexed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (filename) DO UPDATE SET
			namespace = EXCLUDED.namespace,
			num_vectors = EXCLUDED.num_vectors,
			indexed_at = EXCLUDED.indexed_at
	`
	_, err := c.pool.Exec(ctx, query, doc.Filename, doc.Namespace, doc.VectorCount, doc.IndexedAt)
	return err
}

func (c *PostgresCatalog) Get(ctx context.Context, filename string) (types.Document, error) {
	var doc types.Document
	err := c.pool.QueryRow(ctx,
		"SELECT filename, namespace, num_vectors, indexed_at FROM rag_documents WHERE filename = $1", filename,
	).Scan(&doc.Filename, &doc.Namespace, &doc.VectorCount, &doc.IndexedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Document{}, ErrNotFound
	}
	return doc, err
}

func (c *PostgresCatalog) Remove(ctx context.Context, filename string) error {
	_, err := c.pool.Exec(ctx, "DELETE FROM rag_documents WHERE filename = $1", filename)
	return err
}

func (c *PostgresCatalog) List(ctx context.Context) ([]types.Document, error) {
	rows, err := c.pool.Query(ctx,
		"SELECT filename, namespace, num_vectors, indexed_at FROM rag_documents ORDER BY indexed_at, filename")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []types.Document
	for rows.Next() {
		var doc types.Document
		if err := rows.Scan(&doc.Filename, &doc.Namespace, &doc.VectorCount, &doc.IndexedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (c *PostgresCatalog) AddSections(ctx context.Context, labels []string) error {
	batch := &pgx.Batch{}
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		batch.Queue("INSERT INTO rag_sections (label) VALUES ($1) ON CONFLICT DO NOTHING", label)
	}
	if batch.Len() == 0 {
		return nil
	}
	return c.pool.SendBatch(ctx, batch).Close()
}

func (c *PostgresCatalog) Sections(ctx context.Context) ([]string, error) {
	rows, err := c.pool.Query(ctx, "SELECT label FROM rag_sections ORDER BY id")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Close is a no-op; the pool is owned by the caller.
func (c *PostgresCatalog) Close() error {
	return nil
}
