package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser reads curriculum tables. Each sheet becomes one section whose
// rows are written as "header: value" pairs.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) ([]Section, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var sections []Section
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		body := tableText(rows)
		if body == "" {
			continue
		}
		sections = append(sections, Section{
			Heading: sheet,
			Content: body,
			Level:   1,
			Kind:    sheetKind(sheet),
		})
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("no data found in XLSX")
	}
	return sections, nil
}

// sheetKind keeps goal sheets as goals; every other sheet is a table.
func sheetKind(sheet string) string {
	if classify(sheet, "") == KindGoals {
		return KindGoals
	}
	return KindTable
}

// tableText treats the first non-empty row as the header.
func tableText(rows [][]string) string {
	var header []string
	var b strings.Builder
	for _, row := range rows {
		if allEmpty(row) {
			continue
		}
		if header == nil {
			header = row
			continue
		}
		var cells []string
		for i, v := range row {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				cells = append(cells, strings.TrimSpace(header[i])+": "+v)
			} else {
				cells = append(cells, v)
			}
		}
		b.WriteString(strings.Join(cells, "; "))
		b.WriteByte('\n')
	}
	if b.Len() == 0 && header != nil {
		return strings.Join(header, "; ")
	}
	return strings.TrimSpace(b.String())
}

func allEmpty(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
