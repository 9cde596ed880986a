package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/rowmodel/pkg/schema"
)

// Querier is satisfied by *sql.DB, *sql.Conn, *sql.Tx and the access
// queue's executor.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ColumnInfo is one row of PRAGMA table_info.
type ColumnInfo struct {
	Name     string
	DeclType string
	NotNull  bool
	Default  sql.NullString
	PK       int
}

// TableInfo reads PRAGMA table_info for table. An unknown table yields no
// columns and no error, matching SQLite.
func TableInfo(ctx context.Context, q Querier, table string) ([]ColumnInfo, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", QuoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var (
			cid int
			ci  ColumnInfo
		)
		if err := rows.Scan(&cid, &ci.Name, &ci.DeclType, &ci.NotNull, &ci.Default, &ci.PK); err != nil {
			return nil, fmt.Errorf("scan table_info: %w", err)
		}
		cols = append(cols, ci)
	}
	return cols, rows.Err()
}

// DescriptorFromTable derives a model descriptor named name from table's
// columns. The table must have exactly one primary-key column.
func DescriptorFromTable(name, table string, cols []ColumnInfo) (schema.Descriptor, error) {
	d := schema.Descriptor{Name: name, Table: table}
	if len(cols) == 0 {
		return d, fmt.Errorf("table %q not found", table)
	}
	for _, c := range cols {
		if c.PK > 0 {
			if d.PrimaryKey != "" {
				return d, fmt.Errorf("table %q has a composite primary key", table)
			}
			d.PrimaryKey = c.Name
		}
		spec := schema.ColumnSpec{
			Name:     c.Name,
			Type:     schema.AffinityType(c.DeclType).String(),
			Nullable: !c.NotNull && c.PK == 0,
		}
		if c.Default.Valid {
			spec.Default = literalDefault(c.Default.String)
		}
		d.Columns = append(d.Columns, spec)
	}
	if d.PrimaryKey == "" {
		return d, fmt.Errorf("table %q has no primary key", table)
	}
	return d, nil
}

// literalDefault strips SQL quoting from a column default. Expressions
// such as CURRENT_TIMESTAMP are not evaluated and yield nil.
func literalDefault(s string) any {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	if strings.EqualFold(s, "NULL") || strings.ContainsAny(s, "()") || strings.HasPrefix(strings.ToUpper(s), "CURRENT_") {
		return nil
	}
	return s
}

// QuoteIdent quotes an SQLite identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
