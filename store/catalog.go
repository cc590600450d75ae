package store

import (
	"context"
	"errors"

	"resumerag/types"
)

var ErrNotFound = errors.New("document not found")

// Catalog persists the processed-files catalog, the namespace counter and the
// section catalog.
type Catalog interface {
	// NextNamespace returns the current counter value and increments it.
	NextNamespace(ctx context.Context) (int, error)
	Put(ctx context.Context, doc types.Document) error
	// Get returns ErrNotFound for unknown filenames.
	Get(ctx context.Context, filename string) (types.Document, error)
	Remove(ctx context.Context, filename string) error
	List(ctx context.Context) ([]types.Document, error)
	// AddSections merges labels into the section catalog, ignoring blanks
	// and duplicates. Labels compare case-insensitively; the first spelling
	// stored is kept.
	AddSections(ctx context.Context, labels []string) error
	Sections(ctx context.Context) ([]string, error)
	Close() error
}
