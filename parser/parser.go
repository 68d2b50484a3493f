// Package parser extracts text from reference documents (curricula,
// syllabi, worksheets) so it can ground a generated lesson plan.
package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned for file formats without a parser.
var ErrUnsupported = errors.New("parser: unsupported format")

// Section kinds.
const (
	KindSection    = "section"
	KindGoals      = "goals"
	KindAssessment = "assessment"
	KindTable      = "table"
)

// Document is a parsed reference document.
type Document struct {
	Name     string
	Format   string
	Sections []Section
}

// Section is one logical part of a document.
type Section struct {
	Heading string
	Content string
	Level   int // heading depth, 1 = top
	Page    int // 1-based, 0 when the format has no pages
	Kind    string
}

// Parser can parse a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) ([]Section, error)
	SupportedFormats() []string
}

// Text flattens the document for a prompt. Goal sections come first since
// they matter most when planning. At most maxChars bytes are returned; 0
// means no limit.
func (d *Document) Text(maxChars int) string {
	var b strings.Builder
	write := func(s Section) bool {
		var part strings.Builder
		if s.Heading != "" {
			fmt.Fprintf(&part, "## %s\n", s.Heading)
		}
		part.WriteString(s.Content)
		part.WriteString("\n\n")
		if maxChars > 0 && b.Len()+part.Len() > maxChars {
			rest := maxChars - b.Len()
			if rest > 0 {
				b.WriteString(strings.ToValidUTF8(part.String()[:rest], ""))
			}
			return false
		}
		b.WriteString(part.String())
		return true
	}
	for _, goals := range []bool{true, false} {
		for _, s := range d.Sections {
			if (s.Kind == KindGoals) != goals {
				continue
			}
			if !write(s) {
				return strings.TrimSpace(b.String())
			}
		}
	}
	return strings.TrimSpace(b.String())
}
