// Package sqltemplate expands the $T and $PK placeholders in SQL written
// against a model type.
//
//	SELECT * FROM $T WHERE $PK > ? ORDER BY name
//
// becomes, for a type stored in "people" keyed by "id",
//
//	SELECT * FROM "people" WHERE "id" > ? ORDER BY name
//
// Placeholders inside quoted literals and identifiers are left alone.
package sqltemplate

import (
	"strings"

	"github.com/roach88/rowmodel/internal/store"
	"github.com/roach88/rowmodel/pkg/schema"
)

// Expand replaces $T with t's quoted table name and $PK with its quoted
// primary-key column.
func Expand(sql string, t *schema.ModelType) string {
	if !strings.Contains(sql, "$") {
		return sql
	}
	table := store.QuoteIdent(t.Table())
	pk := store.QuoteIdent(t.PrimaryKey())

	var b strings.Builder
	b.Grow(len(sql) + len(table) + len(pk))
	var quote byte
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '$' && strings.HasPrefix(sql[i:], "$PK") && !identChar(sql, i+3):
			b.WriteString(pk)
			i += 2
			continue
		case c == '$' && strings.HasPrefix(sql[i:], "$T") && !identChar(sql, i+2):
			b.WriteString(table)
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// identChar reports whether sql[i] continues an identifier.
func identChar(sql string, i int) bool {
	if i >= len(sql) {
		return false
	}
	c := sql[i]
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
