package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"resumerag/store/migrations"
	"resumerag/types"
)

// SQLiteCatalog is the embedded Catalog used by default.
type SQLiteCatalog struct {
	db   *sql.DB
	path string
}

func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one writer keeps the counter increments serialized
	db.SetMaxOpenConns(1)

	c := &SQLiteCatalog{db: db, path: path}
	if err := c.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return c, nil
}

func (c *SQLiteCatalog) migrate(fsys fs.FS) error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	if err := c.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := c.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (c *SQLiteCatalog) NextNamespace(ctx context.Context) (int, error) {
	var value int
	err := c.db.QueryRowContext(ctx,
		"UPDATE counters SET value = value + 1 WHERE name = 'next_namespace' RETURNING value",
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("incrementing namespace counter: %w", err)
	}
	return value - 1, nil
}

func (c *SQLiteCatalog) Put(ctx context.Context, doc types.Document) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO documents (filename, namespace, num_vectors, indexed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (filename) DO UPDATE SET
			namespace = excluded.namespace,
			num_vectors = excluded.num_vectors,
			indexed_at = excluded.indexed_at
	`, doc.Filename, doc.Namespace, doc.VectorCount, doc.IndexedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving document %s: %w", doc.Filename, err)
	}
	return nil
}

func (c *SQLiteCatalog) Get(ctx context.Context, filename string) (types.Document, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT filename, namespace, num_vectors, indexed_at FROM documents WHERE filename = ?", filename)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Document{}, ErrNotFound
	}
	return doc, err
}

func (c *SQLiteCatalog) Remove(ctx context.Context, filename string) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM documents WHERE filename = ?", filename)
	return err
}

func (c *SQLiteCatalog) List(ctx context.Context) ([]types.Document, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT filename, namespace, num_vectors, indexed_at FROM documents ORDER BY indexed_at, filename")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (c *SQLiteCatalog) AddSections(ctx context.Context, labels []string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO sections (label) VALUES (?)", label); err != nil {
			return fmt.Errorf("saving section %q: %w", label, err)
		}
	}
	return tx.Commit()
}

func (c *SQLiteCatalog) Sections(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT label FROM sections ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (types.Document, error) {
	var (
		doc       types.Document
		indexedAt int64
	)
	if err := row.Scan(&doc.Filename, &doc.Namespace, &doc.VectorCount, &indexedAt); err != nil {
		return types.Document{}, err
	}
	doc.IndexedAt = time.UnixMilli(indexedAt).UTC()
	return doc, nil
}
