package ingest

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Page is the extracted text of one PDF page. Numbers are 1-based, matching
// what a reader sees in a PDF viewer.
type Page struct {
	Number int
	Text   string
}

// PDFExtractor pulls plain text out of PDF files page by page.
type PDFExtractor struct{}

// ExtractPages reads the PDF at path and returns one entry per page that
// contains any text. A PDF with no extractable text at all is an error: there
// is nothing to index and the document must be marked failed.
func (PDFExtractor) ExtractPages(path string) ([]Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	total := r.NumPage()
	var pages []Page
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail individually; scanned or image-only
			// pages are common and should not sink the document.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no extractable text in %d pages", total)
	}
	return pages, nil
}
