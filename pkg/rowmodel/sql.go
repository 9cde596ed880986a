package rowmodel

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/rowmodel/internal/sqltemplate"
	"github.com/roach88/rowmodel/internal/store"
)

// Query selects instances of one type. Where and OrderBy are SQL
// fragments that may use the $T and $PK placeholders and ? arguments.
type Query struct {
	Where   string
	Args    []any
	OrderBy string
	// Limit caps the number of rows; zero means no limit.
	Limit int
}

// SQL renders the statement for t.
func (q Query) SQL(t *ModelType) string {
	var b strings.Builder
	b.WriteString(selectColumns(t))
	if q.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(q.Where)
	}
	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return sqltemplate.Expand(b.String(), t)
}

func selectColumns(t *ModelType) string {
	names := t.ColumnNames()
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = store.QuoteIdent(n)
	}
	return "SELECT " + strings.Join(quoted, ", ") + " FROM " + store.QuoteIdent(t.Table())
}

func insertSQL(t *ModelType, fields []string) string {
	quoted := make([]string, len(fields))
	marks := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = store.QuoteIdent(f)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		store.QuoteIdent(t.Table()), strings.Join(quoted, ", "), strings.Join(marks, ", "))
}

func updateSQL(t *ModelType, fields []string) string {
	sets := make([]string, len(fields))
	for i, f := range fields {
		sets[i] = store.QuoteIdent(f) + " = ?"
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		store.QuoteIdent(t.Table()), strings.Join(sets, ", "), store.QuoteIdent(t.PrimaryKey()))
}

func deleteSQL(t *ModelType) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = ?", store.QuoteIdent(t.Table()), store.QuoteIdent(t.PrimaryKey()))
}

func byKeySQL(t *ModelType) string {
	return selectColumns(t) + " WHERE " + store.QuoteIdent(t.PrimaryKey()) + " = ?"
}

func encodeArg(t *ModelType, field string, v any) any {
	col, ok := t.Column(field)
	if !ok {
		return v
	}
	return col.Encode(v)
}

// scanRows reads rows selected with selectColumns(t) into canonical
// column maps.
func scanRows(t *ModelType, rows *sql.Rows) ([]map[string]any, error) {
	defer rows.Close()
	cols := t.Columns()
	var out []map[string]any
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v, err := col.Coerce(raw[i])
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Name(), col.Name, err)
			}
			row[col.Name] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// loadRow selects the row of t keyed by key, or nil.
func loadRow(ctx context.Context, ex Executor, t *ModelType, key any) (map[string]any, error) {
	rows, err := ex.QueryContext(ctx, byKeySQL(t), encodeArg(t, t.PrimaryKey(), key))
	if err != nil {
		return nil, err
	}
	found, err := scanRows(t, rows)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

// scanMaps reads arbitrary rows into maps keyed by column name.
func scanMaps(rows *sql.Rows) ([]map[string]any, error) {
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		raw := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(names))
		for i, n := range names {
			row[n] = driverValue(raw[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func driverValue(v any) any {
	if b, ok := v.([]byte); ok {
		return append([]byte(nil), b...)
	}
	return v
}
