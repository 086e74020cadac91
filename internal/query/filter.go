package query

import (
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/atlekbai/query_aggregate/internal/schema"
)

// FilterOp is the operator prefix of an "op.value" filter.
type FilterOp string

const (
	OpEq   FilterOp = "eq"
	OpNeq  FilterOp = "neq"
	OpGt   FilterOp = "gt"
	OpGte  FilterOp = "gte"
	OpLt   FilterOp = "lt"
	OpLte  FilterOp = "lte"
	OpLike FilterOp = "like"
	OpIn   FilterOp = "in"
	OpIs   FilterOp = "is"
)

// comparisons maps the binary operators to their SQL spelling.
var comparisons = map[FilterOp]string{
	OpEq: "=", OpNeq: "<>", OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<=", OpLike: "LIKE",
}

// Filter narrows the rows an aggregate runs over. Args hold the bind values,
// typed int64/float64 when the column is numeric.
type Filter struct {
	Column string
	Op     FilterOp
	Args   []any
	// IsNull is set for "is" filters: true for is.null, false for is.not_null.
	IsNull bool
}

// ParseFilter parses a filter value like "eq.publish" into op + value.
func ParseFilter(raw string) (FilterOp, string, error) {
	before, value, ok := strings.Cut(raw, ".")
	if !ok {
		return "", "", fmt.Errorf("invalid filter format %q, expected op.value", raw)
	}

	op := FilterOp(before)
	if _, ok := comparisons[op]; !ok && op != OpIn && op != OpIs {
		return "", "", fmt.Errorf("unknown filter operator %q", op)
	}
	if op == OpIs && value != "null" && value != "not_null" {
		return "", "", fmt.Errorf("is operator only accepts null or not_null, got %q", value)
	}
	return op, value, nil
}

// NewFilter parses raw for col and types its values after the column.
// Numeric columns reject non-numeric values and LIKE.
func NewFilter(col *schema.ColumnDef, raw string) (Filter, error) {
	op, value, err := ParseFilter(raw)
	if err != nil {
		return Filter{}, err
	}
	f := Filter{Column: col.Name, Op: op}

	switch op {
	case OpIs:
		f.IsNull = value == "null"
		return f, nil
	case OpLike:
		if col.IsNumeric() {
			return Filter{}, fmt.Errorf("like needs a text column, %q is %s", col.Name, col.DataType)
		}
	}

	values := []string{value}
	if op == OpIn {
		values = strings.Split(value, ",")
	}
	for _, v := range values {
		arg, err := bindValue(col, v)
		if err != nil {
			return Filter{}, err
		}
		f.Args = append(f.Args, arg)
	}
	return f, nil
}

func bindValue(col *schema.ColumnDef, v string) (any, error) {
	if !col.IsNumeric() {
		return v, nil
	}
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("value %q is not a number for %s column %q", v, col.DataType, col.Name)
	}
	return n, nil
}

// filterCondition returns a squirrel condition for f on the qualified column.
// Postgres binds "in" lists as one array parameter, MySQL expands them.
func filterCondition(dialect schema.Dialect, col string, f Filter) sq.Sqlizer {
	switch f.Op {
	case OpIs:
		if f.IsNull {
			return sq.Eq{col: nil}
		}
		return sq.NotEq{col: nil}
	case OpIn:
		if dialect == schema.Postgres {
			return sq.Expr(col+" = ANY(?)", pgArray(f.Args))
		}
		return sq.Eq{col: f.Args}
	}
	return sq.Expr(fmt.Sprintf(`%s %s ?`, col, comparisons[f.Op]), f.Args[0])
}

// pgArray converts bind values into a typed slice pgx can encode as an array.
func pgArray(args []any) any {
	ints := make([]int64, 0, len(args))
	floats := make([]float64, 0, len(args))
	strs := make([]string, 0, len(args))
	for _, a := range args {
		switch a := a.(type) {
		case int64:
			ints = append(ints, a)
			floats = append(floats, float64(a))
		case float64:
			floats = append(floats, a)
		case string:
			strs = append(strs, a)
		}
	}
	switch {
	case len(ints) == len(args):
		return ints
	case len(floats) == len(args):
		return floats
	}
	return strs
}
