package internal

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("word%03d", i)
	}
	return strings.Join(parts, " ")
}

func TestChunkSections(t *testing.T) {
	text := "Jane Doe\nBackend engineer\n\n## EXPERIENCE\nAcme Corp, 2019-2024\nBuilt payment APIs in Go\n\n## Skills\nGo, Kubernetes, PostgreSQL"
	passages := NewChunker(500, 50).Chunk(text)
	require.Len(t, passages, 3)

	assert.Equal(t, "", passages[0].Section)
	assert.Equal(t, "Jane Doe\nBackend engineer", passages[0].Text)
	assert.False(t, passages[0].SectionStart)

	assert.Equal(t, "EXPERIENCE", passages[1].Section)
	assert.Equal(t, "Acme Corp, 2019-2024\nBuilt payment APIs in Go", passages[1].Text)
	assert.True(t, passages[1].SectionStart)

	assert.Equal(t, "Skills", passages[2].Section)
	assert.NotContains(t, passages[2].Text, "##")

	for i, p := range passages {
		assert.Equal(t, i, p.Sequence)
	}
}

func TestChunkSkipsEmptySections(t *testing.T) {
	passages := NewChunker(500, 50).Chunk("## EDUCATION\n\n## Skills\nGo")
	require.Len(t, passages, 1)
	assert.Equal(t, "Skills", passages[0].Section)
}

func TestChunkLongSectionRespectsBound(t *testing.T) {
	text := "## EXPERIENCE\n" + words(300)
	c := NewChunker(500, 50)
	passages := c.Chunk(text)
	require.Greater(t, len(passages), 1)

	for i, p := range passages {
		assert.LessOrEqual(t, utf8.RuneCountInString(p.Text), 500)
		assert.Equal(t, "EXPERIENCE", p.Section)
		assert.Equal(t, i == 0, p.SectionStart)
		assert.False(t, strings.HasPrefix(p.Text, "ord"), "passage %d starts mid-word", i)
	}

	// consecutive passages share text
	for i := 1; i < len(passages); i++ {
		prev := strings.Fields(passages[i-1].Text)
		first := strings.Fields(passages[i].Text)[0]
		assert.Contains(t, prev, first)
	}
}

func TestChunkPrefersParagraphBreaks(t *testing.T) {
	para := strings.Repeat("a", 300)
	text := para + "\n\n" + para + " " + para
	passages := NewChunker(500, 50).Chunk(text)
	require.GreaterOrEqual(t, len(passages), 2)
	assert.Equal(t, para, passages[0].Text)
}

func TestChunkHardCut(t *testing.T) {
	text := strings.Repeat("x", 1200)
	passages := NewChunker(500, 50).Chunk(text)
	require.Len(t, passages, 3)
	assert.Len(t, passages[0].Text, 500)
	for _, p := range passages {
		assert.LessOrEqual(t, len(p.Text), 500)
	}
}

func TestChunkIdempotent(t *testing.T) {
	c := NewChunker(500, 50)
	text := "Intro line\n\n## Projects\n" + words(250) + "\n\n## Skills\nGo"
	for _, p := range c.Chunk(text) {
		again := c.Chunk(p.Text)
		require.Len(t, again, 1)
		assert.Equal(t, p.Text, again[0].Text)
	}
}

func TestChunkShortSectionSinglePassage(t *testing.T) {
	body := strings.TrimSpace(words(60))
	require.LessOrEqual(t, len(body), 500)
	passages := NewChunker(500, 50).Chunk("## Skills\n" + body)
	require.Len(t, passages, 1)
	assert.Equal(t, body, passages[0].Text)
}

func TestChunkEmpty(t *testing.T) {
	assert.Empty(t, NewChunker(500, 50).Chunk("  \n\n"))
}
