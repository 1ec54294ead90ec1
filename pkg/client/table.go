package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

// ParseAlign accepts left, center or right.
func ParseAlign(raw string) (Align, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "left":
		return AlignLeft, nil
	case "center", "centre":
		return AlignCenter, nil
	case "right":
		return AlignRight, nil
	default:
		return AlignLeft, fmt.Errorf("unknown alignment %q", raw)
	}
}

// renderTable draws columns and rows with each column as wide as its header
// or its widest value, whichever is larger.
func renderTable(columns []string, rows [][]any, align Align) string {
	cells := make([][]string, len(rows))
	widths := make([]int, len(columns))
	for i, column := range columns {
		widths[i] = utf8.RuneCountInString(column)
	}
	for r, row := range rows {
		cells[r] = make([]string, len(columns))
		for i := range columns {
			var value any
			if i < len(row) {
				value = row[i]
			}
			text := formatCell(value)
			cells[r][i] = text
			widths[i] = max(widths[i], utf8.RuneCountInString(text))
		}
	}

	var b strings.Builder
	separator := func() {
		b.WriteByte('+')
		for _, width := range widths {
			b.WriteString(strings.Repeat("-", width+2))
			b.WriteByte('+')
		}
	}
	line := func(values []string) {
		b.WriteByte('|')
		for i, value := range values {
			b.WriteByte(' ')
			b.WriteString(pad(value, widths[i], align))
			b.WriteString(" |")
		}
	}

	separator()
	b.WriteByte('\n')
	line(columns)
	b.WriteByte('\n')
	separator()
	for _, row := range cells {
		b.WriteByte('\n')
		line(row)
	}
	b.WriteByte('\n')
	separator()
	return b.String()
}

func pad(value string, width int, align Align) string {
	gap := width - utf8.RuneCountInString(value)
	if gap <= 0 {
		return value
	}
	switch align {
	case AlignRight:
		return strings.Repeat(" ", gap) + value
	case AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + value + strings.Repeat(" ", gap-left)
	default:
		return value + strings.Repeat(" ", gap)
	}
}

func formatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
