//
// (C) Copyright 2019-2021 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package txtfmt

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	columnSeparator = " "
	missingValue    = "None"
	entityIndent    = "  "
	entitySeparator = ": "
)

// Table formats rows of string values under labeled columns.
type Table struct {
	titles []string
	align  []lipgloss.Position
	rows   [][]string
}

// NewTable returns a Table with the given ordered column titles.
func NewTable(titles ...string) *Table {
	t := &Table{}
	t.SetColumnTitles(titles...)
	return t
}

// SetColumnTitles replaces the column titles. Column alignment is reset
// to the left.
func (t *Table) SetColumnTitles(titles ...string) {
	t.titles = append([]string{}, titles...)
	t.align = make([]lipgloss.Position, len(titles))
	for i := range t.align {
		t.align[i] = lipgloss.Left
	}
}

// AlignRight right-aligns the named columns, typically numeric ones.
func (t *Table) AlignRight(titles ...string) {
	for _, title := range titles {
		for i, ct := range t.titles {
			if ct == title {
				t.align[i] = lipgloss.Right
			}
		}
	}
}

// AddRow appends a row. Missing trailing cells are shown as "None" and
// extra cells are dropped.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.titles))
	for i := range row {
		if i < len(cells) {
			row[i] = cells[i]
			continue
		}
		row[i] = missingValue
	}
	t.rows = append(t.rows, row)
}

// Rows returns the number of rows added.
func (t *Table) Rows() int {
	return len(t.rows)
}

func (t *Table) widths() []int {
	widths := make([]int, len(t.titles))
	for i, title := range t.titles {
		widths[i] = lipgloss.Width(title)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	return widths
}

func (t *Table) formatLine(b *strings.Builder, cells []string, widths []int) {
	out := make([]string, len(cells))
	for i, cell := range cells {
		out[i] = lipgloss.NewStyle().Width(widths[i]).Align(t.align[i]).Render(cell)
	}
	b.WriteString(strings.TrimRight(strings.Join(out, columnSeparator), " "))
	b.WriteString("\n")
}

// Format renders the table with a header of column titles, each
// underlined with dashes.
func (t *Table) Format() string {
	if len(t.titles) == 0 {
		return ""
	}

	widths := t.widths()
	underline := make([]string, len(t.titles))
	for i, title := range t.titles {
		underline[i] = strings.Repeat("-", lipgloss.Width(title))
	}

	var b strings.Builder
	t.formatLine(&b, t.titles, widths)
	t.formatLine(&b, underline, widths)
	for _, row := range t.rows {
		t.formatLine(&b, row, widths)
	}

	return b.String()
}

// WriteTo writes the formatted table to the writer.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, t.Format())
	return int64(n), err
}

// Attr is a single named value of an entity.
type Attr struct {
	Name  string
	Value string
}

// FormatEntity renders the attributes of a single entity under a title,
// one "name: value" pair per line with the values aligned.
func FormatEntity(title string, attrs ...Attr) string {
	var b strings.Builder

	if title != "" {
		b.WriteString(title + "\n")
		b.WriteString(strings.Repeat("-", lipgloss.Width(title)) + "\n")
	}

	width := 0
	for _, attr := range attrs {
		if w := lipgloss.Width(attr.Name); w > width {
			width = w
		}
	}
	nameStyle := lipgloss.NewStyle().Width(width)
	for _, attr := range attrs {
		line := entityIndent + nameStyle.Render(attr.Name) + entitySeparator + attr.Value
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}

	return b.String()
}
