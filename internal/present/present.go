// Package present renders query results for a terminal or a pipe.
package present

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pterm/pterm"

	"github.com/askdb/askdb/internal/query"
)

const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"

	nullText = "NULL"
	ellipsis = "..."
)

type Options struct {
	Format string
	// MaxRows caps the table view; the first and last halves are kept.
	MaxRows int
	// MaxColWidth truncates long cells in the table view.
	MaxColWidth int
}

func Render(w io.Writer, result query.Result, opts Options) error {
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", FormatTable:
		return renderTable(w, result, opts)
	case FormatJSON:
		return renderJSON(w, result)
	case FormatCSV:
		return renderCSV(w, result)
	default:
		return fmt.Errorf("unsupported output format %q", opts.Format)
	}
}

func renderTable(w io.Writer, result query.Result, opts Options) error {
	if len(result.Rows) == 0 {
		_, err := fmt.Fprintf(w, "Empty result\nColumns: [%s]\n", strings.Join(result.Columns, ", "))
		return err
	}

	header := make([]string, 0, len(result.Columns)+1)
	header = append(header, "")
	header = append(header, result.Columns...)
	data := pterm.TableData{header}

	head, tail := visibleRows(len(result.Rows), opts.MaxRows)
	for _, index := range head {
		data = append(data, tableRow(index, result.Rows[index], opts.MaxColWidth))
	}
	if len(tail) > 0 {
		gap := make([]string, len(header))
		for i := range gap {
			gap[i] = ellipsis
		}
		data = append(data, gap)
		for _, index := range tail {
			data = append(data, tableRow(index, result.Rows[index], opts.MaxColWidth))
		}
	}

	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	if _, err := fmt.Fprintln(w, rendered); err != nil {
		return err
	}
	if len(tail) > 0 {
		_, err = fmt.Fprintf(w, "\n[%d rows x %d columns]\n", len(result.Rows), len(result.Columns))
	}
	return err
}

// visibleRows returns the row indexes to print. tail is non-empty only when
// rows were cut from the middle.
func visibleRows(total, maxRows int) (head []int, tail []int) {
	if maxRows <= 0 || total <= maxRows {
		for i := 0; i < total; i++ {
			head = append(head, i)
		}
		return head, nil
	}
	headCount := (maxRows + 1) / 2
	tailCount := maxRows / 2
	if tailCount == 0 {
		tailCount = 1
		headCount = max(headCount-1, 0)
	}
	for i := 0; i < headCount; i++ {
		head = append(head, i)
	}
	for i := total - tailCount; i < total; i++ {
		tail = append(tail, i)
	}
	return head, tail
}

func tableRow(index int, row []any, maxWidth int) []string {
	cells := make([]string, 0, len(row)+1)
	cells = append(cells, strconv.Itoa(index))
	for _, value := range row {
		cells = append(cells, truncate(FormatValue(value), maxWidth))
	}
	return cells
}

func truncate(text string, maxWidth int) string {
	if maxWidth <= 0 || utf8.RuneCountInString(text) <= maxWidth {
		return text
	}
	if maxWidth <= len(ellipsis) {
		return ellipsis[:maxWidth]
	}
	runes := []rune(text)
	return string(runes[:maxWidth-len(ellipsis)]) + ellipsis
}

// FormatValue renders one scanned cell. NULL is spelled out.
func FormatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return nullText
	case string:
		return typed
	case []byte:
		return string(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprint(typed)
	}
}

type jsonResult struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
}

func renderJSON(w io.Writer, result query.Result) error {
	rows := result.Rows
	if rows == nil {
		rows = [][]any{}
	}
	columns := result.Columns
	if columns == nil {
		columns = []string{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(jsonResult{Columns: columns, Rows: rows, RowCount: len(rows)})
}

func renderCSV(w io.Writer, result query.Result) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(result.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range result.Rows {
		record := make([]string, len(row))
		for i, value := range row {
			record[i] = FormatValue(value)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
