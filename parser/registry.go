package parser

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// Registry maps file formats to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a registry with the built-in PDF, XLSX and text
// parsers.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&PDFParser{}, &XLSXParser{}, &TextParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// Get returns the parser for format.
func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, format)
	}
	return p, nil
}

// Register adds or replaces the parser for format.
func (r *Registry) Register(format string, p Parser) {
	r.parsers[strings.ToLower(format)] = p
}

// Parse picks a parser by file extension and parses path.
func (r *Registry) Parse(ctx context.Context, path string) (*Document, error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	p, err := r.Get(format)
	if err != nil {
		return nil, err
	}
	sections, err := p.Parse(ctx, path)
	if err != nil {
		return nil, err
	}
	slog.Debug("parser: document parsed", "file", filepath.Base(path), "format", format, "sections", len(sections))
	return &Document{Name: filepath.Base(path), Format: format, Sections: sections}, nil
}
