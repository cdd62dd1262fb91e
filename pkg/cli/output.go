/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// OutputFormat selects how a Table renders.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatPlain OutputFormat = "plain"
)

// ParseOutputFormat parses a format name, defaulting to the aligned
// table for unknown input.
func ParseOutputFormat(s string) OutputFormat {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON
	case "plain":
		return FormatPlain
	default:
		return FormatTable
	}
}

// visibleLen returns the byte length of s with ANSI escape sequences
// stripped. Column widths must be computed from visible bytes, or a
// colorized cell would drag its whole column wider by the length of
// the escape codes.
func visibleLen(s string) int {
	n := 0
	inEscape := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inEscape:
			if c == 'm' {
				inEscape = false
			}
		case c == '\033':
			inEscape = true
		default:
			n++
		}
	}
	return n
}

// Table accumulates rows and renders them column-aligned, as a JSON
// array, or as raw tab-separated lines.
type Table struct {
	headers []string
	rows    [][]string
	format  OutputFormat
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers, format: FormatTable}
}

// SetFormat sets the output format.
func (t *Table) SetFormat(format OutputFormat) {
	t.format = format
}

// AddRow appends one row of cells.
func (t *Table) AddRow(values ...string) {
	t.rows = append(t.rows, values)
}

// Print renders the table to stdout.
func (t *Table) Print() {
	t.Fprint(os.Stdout)
}

// Fprint renders the table to w in the configured format.
func (t *Table) Fprint(w io.Writer) {
	switch t.format {
	case FormatJSON:
		t.fprintJSON(w)
	case FormatPlain:
		t.fprintPlain(w)
	default:
		t.fprintAligned(w)
	}
}

// fprintAligned pads every column to its widest visible cell and joins
// columns with a two-space gutter.
func (t *Table) fprintAligned(w io.Writer) {
	if len(t.rows) == 0 {
		fmt.Fprintln(w, "(no keys)")
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = visibleLen(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && visibleLen(cell) > widths[i] {
				widths[i] = visibleLen(cell)
			}
		}
	}
	pad := func(cell string, col int) string {
		if col >= len(widths) {
			return cell
		}
		return cell + strings.Repeat(" ", widths[col]-visibleLen(cell))
	}

	header := make([]string, len(t.headers))
	rule := make([]string, len(t.headers))
	for i, h := range t.headers {
		header[i] = pad(bold(h), i)
		rule[i] = strings.Repeat("─", widths[i])
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(header, "  "), " "))
	fmt.Fprintln(w, strings.Join(rule, "  "))

	for _, row := range t.rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = pad(cell, i)
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
	fmt.Fprintf(w, "\n(%d keys)\n", len(t.rows))
}

func (t *Table) fprintJSON(w io.Writer) {
	rows := make([]map[string]string, len(t.rows))
	for i, row := range t.rows {
		m := make(map[string]string, len(row))
		for j, cell := range row {
			if j < len(t.headers) {
				m[t.headers[j]] = cell
			} else {
				m[fmt.Sprintf("col%d", j)] = cell
			}
		}
		rows[i] = m
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		PrintError("failed to encode table as JSON: %v", err)
	}
}

func (t *Table) fprintPlain(w io.Writer) {
	for _, row := range t.rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
}

// FormatBytes renders a byte count in a compact human-readable form,
// used for key length and reservation columns.
func FormatBytes(n uint64) string {
	switch {
	case n < 1<<10:
		return fmt.Sprintf("%d B", n)
	case n < 1<<20:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	}
}

// KeyValue prints a key-value pair with alignment.
func KeyValue(key, value string, keyWidth int) {
	fmt.Printf("  %-*s %s\n", keyWidth, key+":", value)
}
