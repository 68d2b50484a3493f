package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TextParser handles plain text and Markdown. Markdown "#" headings start
// new sections.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md"} }

func (p *TextParser) Parse(ctx context.Context, path string) ([]Section, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}

	var (
		sections []Section
		content  strings.Builder
		heading  = filepath.Base(path)
		level    = 1
	)
	flush := func() {
		body := strings.TrimSpace(content.String())
		if body != "" {
			sections = append(sections, Section{Heading: heading, Content: body, Level: level, Kind: classify(heading, body)})
		}
		content.Reset()
	}
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if h := strings.TrimLeft(trimmed, "#"); h != trimmed && strings.HasPrefix(h, " ") {
			flush()
			heading, level = strings.TrimSpace(h), len(trimmed)-len(h)
			continue
		}
		content.WriteString(line)
		content.WriteByte('\n')
	}
	flush()
	return sections, nil
}
