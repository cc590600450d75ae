package internal

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ValidatePDF checks the file structure with pdfcpu in relaxed mode and
// returns the page count.
func ValidatePDF(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	conf := api.LoadConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(f, conf)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return 0, fmt.Errorf("failed to validate PDF: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return ctx.PageCount, nil
}

// ExtractPDFText returns the text of every page that has any, one line per
// text row and pages joined by a blank line. Glyphs are decoded through the
// font encodings and ToUnicode maps.
func ExtractPDFText(path string) (string, error) {
	if _, err := ValidatePDF(path); err != nil {
		return "", err
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	pages := make([]string, 0, r.NumPage())
	for pageNr := 1; pageNr <= r.NumPage(); pageNr++ {
		p := r.Page(pageNr)
		if p.V.IsNull() {
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			return "", fmt.Errorf("failed to extract page %d: %w", pageNr, err)
		}
		if text := rowsText(rows); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// rowsText renders rows top to bottom, pieces of a row separated by a space.
func rowsText(rows pdf.Rows) string {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Position > rows[j].Position })
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		pieces := make([]string, 0, len(row.Content))
		for _, t := range row.Content {
			pieces = append(pieces, t.S)
		}
		if line := strings.Join(strings.Fields(strings.Join(pieces, " ")), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
