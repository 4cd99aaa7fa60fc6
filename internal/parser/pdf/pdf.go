// Package pdf extracts per-page text from PDF files.
//
// It uses ledongthuc/pdf (pure Go, no CGO). Pages are joined with a
// sentinel line so page boundaries survive normalization and can drive
// the pdf_pages profile downstream.
package pdf

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"

	"github.com/ljramones/lore-ingestor/internal/parser"
)

// PageBreakToken separates page texts in the extracted output. It contains
// no CR, LF, or NUL, so normalization leaves it byte-for-byte intact.
const PageBreakToken = "[[PAGE_BREAK]]"

type Parser struct{}

func New() *Parser { return &Parser{} }

func (p *Parser) Name() string { return "pdf" }

func (p *Parser) Parse(data []byte) (*parser.Result, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("pdf: empty input")
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pdf: open: %w", err)
	}

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// An unreadable page still delimits its neighbors.
			pages = append(pages, "")
			continue
		}
		pages = append(pages, strings.TrimRightFunc(text, unicode.IsSpace))
	}

	return &parser.Result{
		Raw:  data,
		Text: strings.Join(pages, "\n"+PageBreakToken+"\n"),
		Meta: map[string]any{
			"parser":           "pdf",
			"pages":            len(pages),
			"page_break_token": PageBreakToken,
		},
	}, nil
}
