// Package parser resolves file extensions to format parsers.
//
// A parser turns raw file bytes into extracted text plus format metadata
// (encoding, page count, and the like). The registry is an explicit
// capability table built once at startup; nothing self-registers.
package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsupported is returned when no parser is registered for an extension.
var ErrUnsupported = errors.New("unsupported file type")

// Result is the output of a parse: the original bytes, the extracted text
// before normalization, and parser-specific metadata.
type Result struct {
	Raw  []byte
	Text string
	Meta map[string]any
}

// Parser extracts text from one file format.
type Parser interface {
	// Name identifies the parser in run metadata and listings.
	Name() string
	// Parse extracts text from raw file bytes.
	Parse(data []byte) (*Result, error)
}

// Registry maps lowercased extensions to parsers. Register everything
// before first use; the table is read-only afterwards.
type Registry struct {
	byExt map[string]Parser
}

func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]Parser)}
}

// Register maps one or more extensions to p. Extensions are lowercased
// and get a leading dot if missing. A later registration for the same
// extension wins.
func (r *Registry) Register(p Parser, exts ...string) {
	for _, ext := range exts {
		r.byExt[cleanExt(ext)] = p
	}
}

// Get returns the parser registered for ext.
func (r *Registry) Get(ext string) (Parser, error) {
	p, ok := r.byExt[cleanExt(ext)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	return p, nil
}

// ForPath resolves the parser for a file path by its extension.
func (r *Registry) ForPath(path string) (Parser, error) {
	return r.Get(filepath.Ext(path))
}

// Supported reports whether ext has a registered parser.
func (r *Registry) Supported(ext string) bool {
	_, ok := r.byExt[cleanExt(ext)]
	return ok
}

// Exts returns the registered extensions, sorted.
func (r *Registry) Exts() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func cleanExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
