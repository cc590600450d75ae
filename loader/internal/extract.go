package internal

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"resumerag/types"
)

// SectionKeywords are the resume section names recognized as headers.
var SectionKeywords = []string{
	"Education", "Experience", "Work History", "Skills",
	"Projects", "Certifications", "Achievements",
	"Publications", "References",
}

var bulletPrefixes = []string{"-", "*", "•", "1.", "a."}

const maxHeaderTokens = 7

// Extractor turns an uploaded file into header-annotated plain text.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path. PDFs are extracted page by page, any other
// file is read as UTF-8 text. Detected section headers are rewritten as
// "## <line>".
func (e *Extractor) Extract(path string) (string, error) {
	var (
		raw string
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		raw, err = ExtractPDFText(path)
	} else {
		var b []byte
		b, err = os.ReadFile(path)
		raw = string(b)
	}
	if err != nil {
		return "", &types.ExtractionError{Path: path, Err: err}
	}

	text := FormatHeaders(raw)
	if strings.TrimSpace(text) == "" {
		return "", &types.ExtractionError{Path: path, Err: errors.New("no text content")}
	}
	return text, nil
}

// FormatHeaders trims every line, keeps blank lines and prefixes section
// headers with "## ".
func FormatHeaders(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			out = append(out, "")
			continue
		}
		if IsSectionHeader(line) {
			out = append(out, "## "+line)
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// IsSectionHeader reports whether a trimmed line looks like a resume section
// heading: it names a known section, is styled as a title, is not a bullet
// and is short.
func IsSectionHeader(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	lower := strings.ToLower(line)
	keyword := false
	for _, k := range SectionKeywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			keyword = true
			break
		}
	}
	if !keyword {
		return false
	}

	if !isUpper(line) && !isTitle(line) {
		return false
	}

	for _, p := range bulletPrefixes {
		if strings.HasPrefix(line, p) {
			return false
		}
	}

	return len(strings.Fields(line)) <= maxHeaderTokens
}

func isCased(r rune) bool {
	return unicode.IsUpper(r) || unicode.IsLower(r) || unicode.IsTitle(r)
}

// isUpper is true when there is at least one cased rune and none is lowercase.
func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if isCased(r) {
			cased = true
		}
	}
	return cased
}

// isTitle is true when every word starts with an uppercase rune followed only
// by lowercase runes. Uncased runes separate words.
func isTitle(s string) bool {
	cased := false
	prevCased := false
	for _, r := range s {
		switch {
		case unicode.IsUpper(r) || unicode.IsTitle(r):
			if prevCased {
				return false
			}
			prevCased = true
			cased = true
		case unicode.IsLower(r):
			if !prevCased {
				return false
			}
			prevCased = true
			cased = true
		default:
			prevCased = false
		}
	}
	return cased
}
