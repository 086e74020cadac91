package query

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Builder assembles complete statements around a rendered aggregate fragment.
type Builder interface {
	BuildAggregate(frag *Fragment) (string, []any, error)
	BuildCount() (string, []any, error)
}

// StatementBuilder builds SQL for one parent query context and table alias.
type StatementBuilder struct {
	qc    *Context
	alias string
}

// NewBuilder returns a statement builder for qc. The alias must match the one
// the fragment was rendered with.
func NewBuilder(qc *Context, alias string) Builder {
	alias, _ = SanitizeField(alias)
	return &StatementBuilder{qc: qc, alias: alias}
}

// BuildAggregate returns SELECT <fragment> FROM table alias [JOIN] [WHERE] [GROUP BY] [LIMIT].
func (b *StatementBuilder) BuildAggregate(frag *Fragment) (string, []any, error) {
	if frag == nil || frag.Select == "" || b.qc == nil || b.qc.Table == nil {
		return "", nil, ErrNotReady
	}

	qb := b.from(sq.Select(frag.Select))
	if frag.Join != "" {
		qb = qb.JoinClause(frag.Join)
	}
	if frag.Where != "" {
		qb = qb.Where(frag.Where)
	}
	qb = b.applyFilters(qb)
	if len(frag.GroupBy) > 0 {
		qb = qb.GroupBy(qualifyAll(b.alias, frag.GroupBy)...)
	}
	if b.qc.Limit > 0 {
		qb = qb.Limit(uint64(b.qc.Limit))
	}

	return qb.ToSql()
}

// BuildCount returns the number of rows the aggregate runs over.
func (b *StatementBuilder) BuildCount() (string, []any, error) {
	if b.qc == nil || b.qc.Table == nil {
		return "", nil, ErrNotReady
	}
	return b.applyFilters(b.from(sq.Select("COUNT(*)"))).ToSql()
}

func (b *StatementBuilder) from(qb sq.SelectBuilder) sq.SelectBuilder {
	from := b.qc.Table.TableName()
	if b.alias != "" {
		from += " " + b.alias
	}
	return qb.From(from).PlaceholderFormat(b.qc.Table.Dialect.Placeholder())
}

func (b *StatementBuilder) applyFilters(qb sq.SelectBuilder) sq.SelectBuilder {
	for _, f := range b.qc.Filters {
		if !b.qc.ColumnExists(f.Column) {
			continue
		}
		qb = qb.Where(filterCondition(b.qc.Table.Dialect, qualify(b.alias, f.Column), f))
	}
	return qb
}

// quoteLit returns a single-quoted SQL string literal with escaping.
func quoteLit(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
