package types

import "fmt"

// ExtractionError is returned when a file cannot be turned into text.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingError is returned when the embedding service fails.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IndexError is returned when the vector index rejects an operation.
type IndexError struct {
	Op        string
	Namespace string
	Err       error
}

func (e *IndexError) Error() string {
	if e.Namespace != "" {
		return fmt.Sprintf("index %s %s: %v", e.Op, e.Namespace, e.Err)
	}
	return fmt.Sprintf("index %s: %v", e.Op, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }
