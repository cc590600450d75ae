package types

import (
	"time"
)

// Embedding dimension produced by the embedding model (all-MiniLM family).
const Dimension = 384

// Document is a catalog entry of an indexed upload.
type Document struct {
	Filename    string    `json:"filename"`
	Namespace   string    `json:"namespace"`
	VectorCount int       `json:"num_vectors"`
	IndexedAt   time.Time `json:"timestamp"`
}

// Passage is a chunk of extracted text tagged with its section label.
type Passage struct {
	Text         string `json:"text"`
	Section      string `json:"section,omitempty"`
	Sequence     int    `json:"chunk_index"`
	Filename     string `json:"filename,omitempty"`
	SectionStart bool   `json:"section_start,omitempty"`
}

// Record is one vector written into a namespace.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// Match is a scored record returned by a namespace query.
type Match struct {
	ID        string         `json:"id"`
	Namespace string         `json:"namespace"`
	Score     float64        `json:"score"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Text returns the passage text stored in the match metadata.
func (m Match) Text() string {
	return m.str("text")
}

// Section returns the section label stored in the match metadata.
func (m Match) Section() string {
	return m.str("section")
}

// SectionStart reports whether the match is the first passage of its section.
func (m Match) SectionStart() bool {
	v, _ := m.Metadata["section_start"].(bool)
	return v
}

// Sequence returns the passage position. Backends decode numbers differently.
func (m Match) Sequence() int {
	switch v := m.Metadata["chunk_index"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return -1
}

func (m Match) Filename() string {
	return m.str("filename")
}

func (m Match) str(key string) string {
	v, _ := m.Metadata[key].(string)
	return v
}

// IndexStats maps every live namespace to its vector count.
type IndexStats struct {
	Dimension  int            `json:"dimension"`
	Namespaces map[string]int `json:"namespaces"`
}

type Classification string

const (
	General          Classification = "general"
	DocumentSpecific Classification = "document_specific"
)

// Turn is one question/answer exchange kept in a conversation history.
type Turn struct {
	Question       string         `json:"question"`
	Answer         string         `json:"answer"`
	Classification Classification `json:"classification"`
}

// EmptyReason explains why a retrieval produced no passages.
type EmptyReason string

const (
	NoDocuments    EmptyReason = "no_documents"
	NoMatches      EmptyReason = "no_matches"
	BelowThreshold EmptyReason = "below_threshold"
)

// Retrieval is the outcome of a search. Empty is set when Matches is empty.
type Retrieval struct {
	Matches  []Match     `json:"matches"`
	Sections []string    `json:"sections,omitempty"`
	Empty    EmptyReason `json:"empty,omitempty"`
}

func (r Retrieval) Found() bool {
	return len(r.Matches) > 0
}

// Texts returns the passage texts in rank order.
func (r Retrieval) Texts() []string {
	out := make([]string, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.Text()
	}
	return out
}

// Scores returns the relevance scores in rank order.
func (r Retrieval) Scores() []float64 {
	out := make([]float64, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.Score
	}
	return out
}

type Source struct {
	Filename string  `json:"filename"`
	Section  string  `json:"section,omitempty"`
	Index    int     `json:"chunk_index"`
	Score    float64 `json:"score"`
}

type Metadata struct {
	ContextUsed     []string  `json:"context_used"`
	RelevanceScores []float64 `json:"relevance_scores"`
	Sources         []Source  `json:"sources,omitempty"`
}

// Answer is the structured response returned to clients.
type Answer struct {
	Answer         string         `json:"answer"`
	Metadata       Metadata       `json:"metadata"`
	Confidence     float64        `json:"confidence"`
	Classification Classification `json:"classification"`
	SessionID      string         `json:"session_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}
