package parser

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts text page by page and splits pages at headings.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) ([]Section, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	var sections []Section
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Debug("parser: skipping unreadable page", "page", i, "error", err)
			continue
		}
		sections = append(sections, splitPage(text, i)...)
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("no text found in PDF")
	}
	return sections, nil
}

// splitPage breaks page text into sections at lines that look like
// headings.
func splitPage(text string, page int) []Section {
	var (
		sections []Section
		content  strings.Builder
		heading  string
		level    int
	)
	flush := func() {
		body := strings.TrimSpace(content.String())
		if body == "" {
			return
		}
		sections = append(sections, Section{
			Heading: heading,
			Content: body,
			Level:   level,
			Page:    page,
			Kind:    classify(heading, body),
		})
		content.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isHeading(line) {
			flush()
			heading, level = line, headingLevel(line)
			continue
		}
		if content.Len() > 0 {
			content.WriteByte('\n')
		}
		content.WriteString(line)
	}
	flush()
	return sections
}

var (
	numberedRe      = regexp.MustCompile(`^\d+(\.\d+)*\.?\s+\S`)
	headingPrefixRe = regexp.MustCompile(`(?i)^(chapter|unit|lesson|module|section|kapitel|einheit|abschnitt|modul|lernfeld|themenfeld)\s+\S`)
)

func isHeading(line string) bool {
	if len(line) > 100 {
		return false
	}
	hasLetter := strings.IndexFunc(line, func(r rune) bool { return r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' }) >= 0
	if len(line) > 2 && hasLetter && line == strings.ToUpper(line) {
		return true
	}
	return numberedRe.MatchString(line) || headingPrefixRe.MatchString(line)
}

// headingLevel counts the dots of a numbered heading; other headings are
// top level.
func headingLevel(heading string) int {
	num, _, _ := strings.Cut(heading, " ")
	if numberedRe.MatchString(heading) {
		return strings.Count(strings.TrimSuffix(num, "."), ".") + 1
	}
	return 1
}

var (
	goalWords       = []string{"learning goal", "learning objective", "objectives", "outcomes", "competenc", "lernziel", "kompetenz", "lernergebnis"}
	assessmentWords = []string{"assessment", "evaluation", "grading", "bewertung", "leistungsnachweis", "prüfung"}
)

// classify tags a section by its heading, falling back to table detection
// on the content.
func classify(heading, content string) string {
	h := strings.ToLower(heading)
	for _, w := range goalWords {
		if strings.Contains(h, w) {
			return KindGoals
		}
	}
	for _, w := range assessmentWords {
		if strings.Contains(h, w) {
			return KindAssessment
		}
	}
	if strings.Count(content, "\t") > 3 || strings.Count(content, "|") > 3 {
		return KindTable
	}
	return KindSection
}
