package core

import (
	"fmt"
	"strings"
)

// WhereBuilder accumulates AND-ed SQL conditions with numbered $n
// placeholders.
type WhereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
}

// NewWhereBuilder returns an empty builder whose first placeholder is $1.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{argIndex: 1}
}

// Add appends "column = $n". Empty values are skipped.
func (wb *WhereBuilder) Add(column, value string) {
	if value == "" {
		return
	}
	wb.AddExpr(column+" = %s", value)
}

// AddExpr appends expr with its single %s replaced by the next placeholder.
func (wb *WhereBuilder) AddExpr(expr string, arg any) {
	placeholder := fmt.Sprintf("$%d", wb.argIndex)
	wb.conditions = append(wb.conditions, strings.Replace(expr, "%s", placeholder, 1))
	wb.args = append(wb.args, arg)
	wb.argIndex++
}

// AddCompare appends "column op $n" where op is one of =, <, <=, >, >=.
// cast, when non-empty, is applied to the placeholder ("$n::numeric").
func (wb *WhereBuilder) AddCompare(column, op string, value any, cast string) {
	ph := "%s"
	if cast != "" {
		ph += "::" + cast
	}
	wb.AddExpr(column+" "+op+" "+ph, value)
}

// AddILike appends a case-insensitive substring match on column. LIKE
// wildcards in substring are escaped so they match literally.
func (wb *WhereBuilder) AddILike(column, substring string) {
	if substring == "" {
		return
	}
	wb.AddExpr(column+" ILIKE %s", "%"+EscapeLike(substring)+"%")
}

// AddAny appends "column = ANY($n::text[]::elemType[])".
func (wb *WhereBuilder) AddAny(column string, values []string, elemType string) {
	wb.AddExpr(fmt.Sprintf("%s = ANY(%%s::text[]::%s[])", column, elemType), values)
}

// Build returns the WHERE clause (with leading space) and its args, or
// ("", nil) when nothing was added.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// NextArgIndex is the number of the next placeholder, for LIMIT/OFFSET.
func (wb *WhereBuilder) NextArgIndex() int {
	return wb.argIndex
}

// EscapeLike escapes \, % and _ for use inside a LIKE pattern.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
