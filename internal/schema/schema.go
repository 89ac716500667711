// Package schema reads table and column definitions from the connected
// database and renders them as prompt context.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/database"
)

type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"not_null"`
	PrimaryKey bool   `json:"primary_key"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

type Schema struct {
	Dialect database.Dialect `json:"dialect"`
	Tables  []Table          `json:"tables"`
}

type Options struct {
	// SchemaName scopes information_schema lookups. Defaults to "public" for
	// postgres and "main" for duckdb; ignored for sqlite.
	SchemaName string
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func Load(ctx context.Context, db querier, dialect database.Dialect, opts Options) (Schema, error) {
	if db == nil {
		return Schema{}, fmt.Errorf("database handle is required")
	}
	var (
		tables []Table
		err    error
	)
	switch dialect {
	case database.DialectSQLite:
		tables, err = loadSQLite(ctx, db)
	case database.DialectPostgres:
		tables, err = loadInformationSchema(ctx, db, dialect, firstNonEmpty(opts.SchemaName, "public"))
	case database.DialectDuckDB:
		tables, err = loadInformationSchema(ctx, db, dialect, firstNonEmpty(opts.SchemaName, "main"))
	default:
		return Schema{}, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if err != nil {
		return Schema{}, err
	}
	return Schema{Dialect: dialect, Tables: tables}, nil
}

// Text renders the schema as:
//
//	table: Album
//	Columns:
//	  - AlbumId (INTEGER)
//
// with a blank line after each table.
func (s Schema) Text() string {
	var b strings.Builder
	for _, table := range s.Tables {
		b.WriteString("table: ")
		b.WriteString(table.Name)
		b.WriteString("\nColumns:\n")
		for _, column := range table.Columns {
			b.WriteString("  - ")
			b.WriteString(column.Name)
			b.WriteString(" (")
			b.WriteString(column.Type)
			b.WriteString(")\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (s Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		names = append(names, table.Name)
	}
	return names
}

func loadSQLite(ctx context.Context, db querier) ([]Table, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list sqlite tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		if isInternalTable(name) {
			continue
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	_ = rows.Close()

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		columns, err := sqliteColumns(ctx, db, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, Table{Name: name, Columns: columns})
	}
	return tables, nil
}

func sqliteColumns(ctx context.Context, db querier, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, `PRAGMA table_info(`+quoteIdent(table)+`)`)
	if err != nil {
		return nil, fmt.Errorf("table info %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []Column
	for rows.Next() {
		var (
			cid        int
			name       string
			columnType string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &columnType, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("scan column of %q: %w", table, err)
		}
		columns = append(columns, Column{
			Name:       name,
			Type:       columnType,
			NotNull:    notNull != 0,
			PrimaryKey: pk > 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %q: %w", table, err)
	}
	return columns, nil
}

func loadInformationSchema(ctx context.Context, db querier, dialect database.Dialect, schemaName string) ([]Table, error) {
	query := `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = ` + dialect.Placeholder(1) + `
ORDER BY table_name, ordinal_position`
	rows, err := db.QueryContext(ctx, query, schemaName)
	if err != nil {
		return nil, fmt.Errorf("list columns in schema %q: %w", schemaName, err)
	}
	defer func() { _ = rows.Close() }()

	var tables []Table
	index := map[string]int{}
	for rows.Next() {
		var tableName, columnName, dataType, nullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if isInternalTable(tableName) {
			continue
		}
		pos, ok := index[tableName]
		if !ok {
			pos = len(tables)
			index[tableName] = pos
			tables = append(tables, Table{Name: tableName})
		}
		tables[pos].Columns = append(tables[pos].Columns, Column{
			Name:    columnName,
			Type:    dataType,
			NotNull: strings.EqualFold(nullable, "NO"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return tables, nil
}

func isInternalTable(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "sqlite_") || strings.HasPrefix(lower, "askdb_")
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}
