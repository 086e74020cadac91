package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/atlekbai/query_aggregate/internal/schema"
)

// ValueAlias is the column alias every aggregate expression is selected as.
const ValueAlias = "aggregated_value"

const concatSeparator = "|"

// ErrNotReady is returned by Render when the builder has nothing valid to
// aggregate. Callers should omit the clause rather than fail the query.
var ErrNotReady = errors.New("aggregate clause not ready")

// SchemaOracle answers column questions for the parent query.
type SchemaOracle interface {
	ColumnExists(name string) bool
	IsColumnNumeric(name string) bool
	// GroupBy returns the unqualified grouping columns, or nil when the query is not grouped.
	GroupBy() []string
}

// Fragment is a rendered piece of a SELECT statement. Join and Where are
// reserved and currently always empty.
type Fragment struct {
	Select string
	Join   string
	Where  string

	// Fields are the columns that passed schema validation, in configured order.
	Fields []string
	// GroupBy are the unqualified grouping columns prepended to Select.
	GroupBy []string
}

// Options configures NewAggregate.
type Options struct {
	Function string
	Fields   []string
	Operator string

	// StrictFields drops field names containing characters outside [A-Za-z0-9_]
	// instead of stripping those characters.
	StrictFields bool

	Logger log.Logger
}

// ParseOptions reads an options bag with the keys function, fields, operator
// and strict_fields. fields may be a single string or a sequence of strings.
func ParseOptions(bag map[string]any) Options {
	var opts Options
	if v, ok := bag["function"].(string); ok {
		opts.Function = v
	}
	opts.Fields = toStrings(bag["fields"])
	if v, ok := bag["operator"].(string); ok {
		opts.Operator = v
	}
	switch v := bag["strict_fields"].(type) {
	case bool:
		opts.StrictFields = v
	case string:
		opts.StrictFields, _ = strconv.ParseBool(v)
	}
	return opts
}

// Aggregate builds the SELECT fragment of an aggregate query. It is immutable
// after construction and safe for concurrent use.
type Aggregate struct {
	function string
	fields   []string
	operator string
	logger   log.Logger
}

// NewAggregate sanitizes opts. Invalid input never fails construction: an
// unknown function is discarded, an unknown operator becomes DefaultOperator
// and disallowed characters are stripped from field names.
func NewAggregate(opts Options) *Aggregate {
	a := &Aggregate{
		operator: DefaultOperator,
		logger:   opts.Logger,
	}
	if a.logger == nil {
		a.logger = log.NewNopLogger()
	}

	if opts.Function != "" {
		fn, modified := SanitizeFunction(opts.Function)
		if fn == "" {
			level.Warn(a.logger).Log("msg", "discarding unknown aggregate function", "function", opts.Function)
		} else if modified {
			level.Debug(a.logger).Log("msg", "normalized aggregate function", "function", opts.Function, "normalized", fn)
		}
		a.function = fn
	}

	if opts.Operator != "" {
		op, modified := SanitizeOperator(opts.Operator)
		if modified && op != strings.TrimSpace(opts.Operator) {
			level.Warn(a.logger).Log("msg", "unknown operator, using default", "operator", opts.Operator, "default", DefaultOperator)
		}
		a.operator = op
	}

	for _, f := range opts.Fields {
		if opts.StrictFields && !ValidField(f) {
			level.Warn(a.logger).Log("msg", "rejecting field with invalid characters", "field", f)
			continue
		}
		clean, modified := SanitizeField(f)
		if clean == "" {
			level.Warn(a.logger).Log("msg", "dropping empty field", "field", f)
			continue
		}
		if modified && clean != strings.TrimSpace(f) {
			level.Warn(a.logger).Log("msg", "stripped invalid characters from field", "field", f, "sanitized", clean)
		}
		a.fields = append(a.fields, clean)
	}

	return a
}

// Function returns the normalized aggregate function, or "" when none is configured.
func (a *Aggregate) Function() string { return a.function }

// Operator returns the operator joining fields in arithmetic aggregates.
func (a *Aggregate) Operator() string { return a.operator }

// Fields returns a copy of the sanitized, not yet schema-validated fields.
func (a *Aggregate) Fields() []string {
	return append([]string(nil), a.fields...)
}

// Ready reports whether function, fields and operator are all configured.
func (a *Aggregate) Ready() bool {
	return a.function != "" && len(a.fields) > 0 && a.operator != ""
}

// SupportsDialect reports whether the rendered fragment is valid SQL for d.
// GROUP_CONCAT ... SEPARATOR only exists in MySQL.
func (a *Aggregate) SupportsDialect(d schema.Dialect) bool {
	return a.function != AggGroupConcat || d == schema.MySQL
}

// Render validates the fields against oracle and renders the SELECT fragment.
// tableName and primaryKey are accepted for symmetry with the other clause
// builders and are unused. Render returns ErrNotReady when the builder is not
// configured or no field is an existing numeric column.
func (a *Aggregate) Render(tableName, tableAlias, primaryKey string, oracle SchemaOracle) (*Fragment, error) {
	if !a.Ready() || oracle == nil {
		return nil, ErrNotReady
	}

	fields := a.validFields(oracle)
	if len(fields) == 0 {
		level.Warn(a.logger).Log("msg", "no aggregate field passed schema validation", "table", tableName, "function", a.function)
		return nil, ErrNotReady
	}

	alias, _ := SanitizeField(tableAlias)
	groupBy := GroupColumns(oracle.GroupBy())

	var expr string
	switch a.function {
	case AggGroupConcat:
		expr = concatExpr(alias, fields)
	default:
		expr = arithmeticExpr(a.function, a.operator, alias, fields)
	}

	sel := expr
	if len(groupBy) > 0 {
		sel = strings.Join(qualifyAll(alias, groupBy), ", ") + ", " + expr
	}

	return &Fragment{
		Select:  sel,
		Fields:  fields,
		GroupBy: groupBy,
	}, nil
}

// validFields keeps fields that exist and are numeric, preserving order.
func (a *Aggregate) validFields(oracle SchemaOracle) []string {
	var out []string
	for _, f := range a.fields {
		if !oracle.ColumnExists(f) {
			level.Warn(a.logger).Log("msg", "dropping unknown aggregate field", "field", f)
			continue
		}
		if !oracle.IsColumnNumeric(f) {
			level.Warn(a.logger).Log("msg", "dropping non-numeric aggregate field", "field", f)
			continue
		}
		out = append(out, f)
	}
	return out
}

// arithmeticExpr renders FUNC(a.f1 op a.f2 ...) AS aggregated_value.
func arithmeticExpr(fn, op, alias string, fields []string) string {
	return fmt.Sprintf("%s(%s) AS %s", fn, strings.Join(qualifyAll(alias, fields), " "+op+" "), ValueAlias)
}

// concatExpr renders GROUP_CONCAT(DISTINCT CONCAT(a.f1, '|', a.f2 ...) SEPARATOR '|') AS aggregated_value.
// The configured operator does not apply here.
func concatExpr(alias string, fields []string) string {
	sep := quoteLit(concatSeparator)
	inner := strings.Join(qualifyAll(alias, fields), ", "+sep+", ")
	return fmt.Sprintf("GROUP_CONCAT(DISTINCT CONCAT(%s) SEPARATOR %s) AS %s", inner, sep, ValueAlias)
}

func qualify(alias, column string) string {
	if alias == "" {
		return column
	}
	return alias + "." + column
}

func qualifyAll(alias string, columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = qualify(alias, c)
	}
	return out
}
