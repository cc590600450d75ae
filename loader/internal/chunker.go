package internal

import (
	"strings"
	"unicode"

	"resumerag/types"
)

const headerPrefix = "## "

// Chunker splits header-annotated text into section-labeled passages.
type Chunker struct {
	Size    int
	Overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{Size: size, Overlap: overlap}
}

type section struct {
	label string
	body  string
}

// Chunk returns the passages of text in source order. Sequence numbers are
// global across sections.
func (c *Chunker) Chunk(text string) []types.Passage {
	var passages []types.Passage
	seq := 0
	for _, sec := range splitSections(text) {
		for i, part := range c.window(sec.body) {
			passages = append(passages, types.Passage{
				Text:         part,
				Section:      sec.label,
				Sequence:     seq,
				SectionStart: i == 0 && sec.label != "",
			})
			seq++
		}
	}
	return passages
}

// splitSections cuts text at "## " lines. Header lines are not part of the body.
func splitSections(text string) []section {
	var (
		out   []section
		cur   section
		lines []string
	)
	flush := func() {
		cur.body = strings.TrimSpace(strings.Join(lines, "\n"))
		if cur.body != "" {
			out = append(out, cur)
		}
		lines = lines[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, headerPrefix) {
			flush()
			cur = section{label: strings.TrimSpace(strings.TrimPrefix(line, headerPrefix))}
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return out
}

var separators = [][]rune{[]rune("\n\n"), []rune("\n"), []rune(" ")}

// window splits body into pieces of at most c.Size runes, preferring a
// paragraph break, then a line break, then a space, then a hard cut.
func (c *Chunker) window(body string) []string {
	runes := []rune(body)
	if len(runes) <= c.Size {
		return []string{body}
	}

	var out []string
	start := 0
	for start < len(runes) {
		end := start + c.Size
		if end >= len(runes) {
			if piece := strings.TrimSpace(string(runes[start:])); piece != "" {
				out = append(out, piece)
			}
			break
		}

		cut := c.breakPoint(runes, start, end)
		if piece := strings.TrimSpace(string(runes[start:cut])); piece != "" {
			out = append(out, piece)
		}
		start = c.nextStart(runes, start, cut)
	}
	return out
}

// breakPoint finds the last separator in (start+Overlap, end]. The returned
// index is exclusive and always greater than start+Overlap.
func (c *Chunker) breakPoint(runes []rune, start, end int) int {
	low := start + c.Overlap + 1
	for _, sep := range separators {
		for p := end - len(sep); p >= low; p-- {
			if hasRunes(runes, p, sep) {
				return p
			}
		}
	}
	return end
}

// nextStart backs up Overlap runes from cut and moves forward to the start
// of the next word.
func (c *Chunker) nextStart(runes []rune, start, cut int) int {
	next := cut - c.Overlap
	if next > 0 && !unicode.IsSpace(runes[next-1]) {
		p := next
		for p < cut && !unicode.IsSpace(runes[p]) {
			p++
		}
		if p < cut {
			next = p
		}
	}
	for next < len(runes) && unicode.IsSpace(runes[next]) {
		next++
	}
	if next <= start {
		next = cut
	}
	return next
}

func hasRunes(runes []rune, at int, sep []rune) bool {
	if at+len(sep) > len(runes) {
		return false
	}
	for i, r := range sep {
		if runes[at+i] != r {
			return false
		}
	}
	return true
}
