// Package docx extracts paragraph text from .docx files.
//
// A .docx is a zip container; the body lives in word/document.xml. The
// extractor walks that XML as a token stream: only <w:t> runs contribute
// text, tabs and manual breaks map to their plain-text equivalents, and
// each <w:p> becomes one paragraph. Paragraphs are joined with a blank
// line so blank-line profiles see paragraph boundaries.
package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ljramones/lore-ingestor/internal/parser"
)

type Parser struct {
	// StripHeaderFooter drops page-furniture lines from the output:
	// bare page numbers, "Page N", "N/M", and lines starting with
	// "header" or "footer".
	StripHeaderFooter bool
}

func New() *Parser { return &Parser{} }

func (p *Parser) Name() string { return "docx" }

func (p *Parser) Parse(data []byte) (*parser.Result, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("docx: empty input")
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("docx: open container: %w", err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("docx: missing word/document.xml")
	}

	rc, err := doc.Open()
	if err != nil {
		return nil, fmt.Errorf("docx: open document.xml: %w", err)
	}
	defer rc.Close()

	paras, err := paragraphs(rc)
	if err != nil {
		return nil, err
	}

	text := strings.Join(paras, "\n\n")
	if p.StripHeaderFooter {
		text = stripFurniture(text)
	}

	return &parser.Result{
		Raw:  data,
		Text: text,
		Meta: map[string]any{
			"parser":     "docx",
			"bytes":      len(data),
			"paragraphs": len(paras),
		},
	}, nil
}

// paragraphs collects one string per <w:p> element.
func paragraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		paras  []string
		cur    strings.Builder
		inPara bool
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("docx: parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				cur.Reset()
			case "t":
				inText = true
			case "tab":
				if inPara {
					cur.WriteByte('\t')
				}
			case "br", "cr":
				if inPara {
					cur.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				if inPara {
					paras = append(paras, cur.String())
					inPara = false
				}
			case "t":
				inText = false
			}
		case xml.CharData:
			if inPara && inText {
				cur.Write(t)
			}
		}
	}
	return paras, nil
}

var furniture = []*regexp.Regexp{
	regexp.MustCompile(`^\s*\d+\s*$`),
	regexp.MustCompile(`(?i)^\s*page\s+\d+\s*$`),
	regexp.MustCompile(`^\s*\d+\s*/\s*\d+\s*$`),
	regexp.MustCompile(`(?i)^\s*(header|footer)`),
}

// stripFurniture removes lines that look like page headers or footers.
func stripFurniture(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		drop := false
		for _, re := range furniture {
			if re.MatchString(line) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
