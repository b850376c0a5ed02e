package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// NoResults is the reply for an empty result set.
const NoResults = "No matching records found."

// Format renders records as a markdown table of the given columns.
func Format(records []Record, columns []string) string {
	if len(records) == 0 {
		return NoResults
	}
	if len(columns) == 0 {
		columns = inferColumns(records[0])
	}

	var b strings.Builder
	b.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(columns)) + "\n")
	for _, r := range records {
		cells := make([]string, len(columns))
		for i, col := range columns {
			cells[i] = formatCell(r[col])
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	fmt.Fprintf(&b, "\n%d record(s)", len(records))
	return b.String()
}

func formatCell(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return ""
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		s = val.UTC().Format("2006-01-02 15:04")
	case string:
		s = val
	default:
		s = fmt.Sprint(val)
	}
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func inferColumns(r Record) []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
