// Package export writes query results to Parquet files, locally or to
// object storage.
package export

import (
	"fmt"
	"io"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"github.com/askdb/askdb/internal/query"
)

type columnKind int

const (
	kindString columnKind = iota
	kindInt64
	kindDouble
	kindBoolean
)

// WriteParquet encodes result with one optional column per result column.
// Column types are inferred from the values; columns mixing types fall back
// to strings.
func WriteParquet(w io.Writer, result query.Result) (int64, error) {
	if len(result.Columns) == 0 {
		return 0, fmt.Errorf("result has no columns")
	}
	names := uniqueColumnNames(result.Columns)
	kinds := make([]columnKind, len(names))
	group := parquet.Group{}
	for i, name := range names {
		kinds[i] = inferKind(result.Rows, i)
		group[name] = parquet.Optional(leafFor(kinds[i]))
	}
	schema := parquet.NewSchema("result", group)

	// Group orders leaves by name, so map each result column to its leaf.
	leafIndex := make([]int, len(names))
	for i, name := range names {
		leaf, ok := schema.Lookup(name)
		if !ok {
			return 0, fmt.Errorf("column %q missing from parquet schema", name)
		}
		leafIndex[i] = leaf.ColumnIndex
	}

	rows := make([]parquet.Row, 0, len(result.Rows))
	for rowIndex, values := range result.Rows {
		if len(values) != len(names) {
			return 0, fmt.Errorf("row %d has %d values, want %d", rowIndex, len(values), len(names))
		}
		row := make(parquet.Row, len(names))
		for i, value := range values {
			converted, err := convert(value, kinds[i])
			if err != nil {
				return 0, fmt.Errorf("row %d column %q: %w", rowIndex, names[i], err)
			}
			if converted == nil {
				row[leafIndex[i]] = parquet.Value{}.Level(0, 0, leafIndex[i])
				continue
			}
			row[leafIndex[i]] = parquet.ValueOf(converted).Level(0, 1, leafIndex[i])
		}
		rows = append(rows, row)
	}

	writer := parquet.NewWriter(w, schema)
	if _, err := writer.WriteRows(rows); err != nil {
		return 0, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close parquet writer: %w", err)
	}
	return int64(len(rows)), nil
}

func leafFor(kind columnKind) parquet.Node {
	switch kind {
	case kindInt64:
		return parquet.Int(64)
	case kindDouble:
		return parquet.Leaf(parquet.DoubleType)
	case kindBoolean:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.String()
	}
}

func inferKind(rows [][]any, column int) columnKind {
	seen := map[columnKind]bool{}
	for _, row := range rows {
		if column >= len(row) || row[column] == nil {
			continue
		}
		seen[kindOf(row[column])] = true
	}
	switch {
	case len(seen) == 0:
		return kindString
	case len(seen) == 1:
		for kind := range seen {
			return kind
		}
	case len(seen) == 2 && seen[kindInt64] && seen[kindDouble]:
		return kindDouble
	}
	return kindString
}

func kindOf(value any) columnKind {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return kindInt64
	case float32, float64:
		return kindDouble
	case bool:
		return kindBoolean
	default:
		return kindString
	}
}

func convert(value any, kind columnKind) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch kind {
	case kindInt64:
		return toInt64(value)
	case kindDouble:
		if n, err := toInt64(value); err == nil {
			return float64(n), nil
		}
		switch typed := value.(type) {
		case float64:
			return typed, nil
		case float32:
			return float64(typed), nil
		}
		return nil, fmt.Errorf("cannot store %T as double", value)
	case kindBoolean:
		typed, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("cannot store %T as boolean", value)
		}
		return typed, nil
	default:
		return stringValue(value), nil
	}
}

func toInt64(value any) (int64, error) {
	switch typed := value.(type) {
	case int:
		return int64(typed), nil
	case int8:
		return int64(typed), nil
	case int16:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case int64:
		return typed, nil
	case uint8:
		return int64(typed), nil
	case uint16:
		return int64(typed), nil
	case uint32:
		return int64(typed), nil
	default:
		return 0, fmt.Errorf("cannot store %T as int64", value)
	}
}

func stringValue(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return fmt.Sprint(typed)
	}
}

// uniqueColumnNames suffixes repeated names (Total, Total_1) and names
// blank ones after their position.
func uniqueColumnNames(columns []string) []string {
	names := make([]string, len(columns))
	used := map[string]bool{}
	for i, column := range columns {
		name := column
		if name == "" {
			name = "column_" + strconv.Itoa(i)
		}
		candidate := name
		for suffix := 1; used[candidate]; suffix++ {
			candidate = name + "_" + strconv.Itoa(suffix)
		}
		used[candidate] = true
		names[i] = candidate
	}
	return names
}
