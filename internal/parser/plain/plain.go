// Package plain parses .txt and .md files.
//
// Extraction is just a decode; one parser serves both extensions because
// they only diverge downstream, in the segmentation profile.
package plain

import (
	"github.com/ljramones/lore-ingestor/internal/normalize"
	"github.com/ljramones/lore-ingestor/internal/parser"
)

type Parser struct{}

func New() *Parser { return &Parser{} }

func (p *Parser) Name() string { return "txtmd" }

func (p *Parser) Parse(data []byte) (*parser.Result, error) {
	enc := normalize.DetectEncoding(data)
	return &parser.Result{
		Raw:  data,
		Text: normalize.Decode(data, enc),
		Meta: map[string]any{
			"parser":   "txtmd",
			"encoding": enc,
			"bytes":    len(data),
		},
	}, nil
}
