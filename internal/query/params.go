package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/atlekbai/query_aggregate/internal/schema"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Context is the parent query an aggregate fragment is rendered into. It
// answers the builder's schema questions from the table definition.
type Context struct {
	Table *schema.TableDef
	// Grouping is the raw grouping specification: "", a column name, or a
	// []string / []any of column names.
	Grouping any
	Filters  []Filter
	Limit    int
}

// ColumnExists reports whether the table has a column called name.
func (c *Context) ColumnExists(name string) bool {
	return c.Table != nil && c.Table.HasColumn(name)
}

// IsColumnNumeric reports whether name is a column with a numeric data type.
func (c *Context) IsColumnNumeric(name string) bool {
	if c.Table == nil {
		return false
	}
	col := c.Table.Column(name)
	return col != nil && col.IsNumeric()
}

// GroupBy returns the sanitized grouping columns that exist in the table.
func (c *Context) GroupBy() []string {
	var out []string
	for _, col := range GroupColumns(c.Grouping) {
		if c.ColumnExists(col) {
			out = append(out, col)
		}
	}
	return out
}

// ParamsInput holds the raw parent-query parameters, before validation.
type ParamsInput struct {
	GroupBy []string
	// Filters maps column names to "op.value" expressions.
	Filters map[string]string
	Limit   int
}

// ParseParams validates in against table and returns the query context.
func ParseParams(table *schema.TableDef, in ParamsInput) (*Context, error) {
	qc := &Context{
		Table: table,
		Limit: DefaultLimit,
	}

	var group []string
	for _, g := range in.GroupBy {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if !table.HasColumn(g) {
			return nil, fmt.Errorf("unknown field %q in group_by", g)
		}
		group = append(group, g)
	}
	if len(group) > 0 {
		qc.Grouping = group
	}

	if in.Limit < 0 {
		return nil, fmt.Errorf("invalid limit %d", in.Limit)
	}
	if in.Limit > 0 {
		qc.Limit = min(in.Limit, MaxLimit)
	}

	// Stable filter order keeps generated SQL deterministic.
	columns := make([]string, 0, len(in.Filters))
	for col := range in.Filters {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	for _, col := range columns {
		if !ValidField(col) || !table.HasColumn(col) {
			return nil, fmt.Errorf("unknown filter field %q", col)
		}
		f, err := NewFilter(table.Column(col), in.Filters[col])
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", col, err)
		}
		qc.Filters = append(qc.Filters, f)
	}

	return qc, nil
}
