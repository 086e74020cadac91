package query

import (
	"fmt"
	"strings"
)

// Aggregate function names accepted by the builder.
const (
	AggSum         = "SUM"
	AggAvg         = "AVG"
	AggMax         = "MAX"
	AggMin         = "MIN"
	AggCount       = "COUNT"
	AggGroupConcat = "GROUP_CONCAT"
	AggStddev      = "STDDEV"
	AggVarSamp     = "VAR_SAMP"
	AggVarPop      = "VAR_POP"
)

// DefaultOperator combines fields when no valid operator was configured.
const DefaultOperator = "+"

var allowedFunctions = map[string]bool{
	AggSum: true, AggAvg: true, AggMax: true, AggMin: true, AggCount: true,
	AggGroupConcat: true, AggStddev: true, AggVarSamp: true, AggVarPop: true,
}

var allowedOperators = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "%": true,
}

// SanitizeFunction normalizes an aggregate function name. Names outside the
// allow-list become "". modified reports whether the result differs from fn.
func SanitizeFunction(fn string) (string, bool) {
	out := strings.ToUpper(strings.TrimSpace(fn))
	if !allowedFunctions[out] {
		out = ""
	}
	return out, out != fn
}

// SanitizeOperator returns op if it is one of + - * / %, otherwise DefaultOperator.
func SanitizeOperator(op string) (string, bool) {
	out := strings.TrimSpace(op)
	if !allowedOperators[out] {
		out = DefaultOperator
	}
	return out, out != op
}

func isIdentRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// SanitizeField trims a column name and strips every character outside [A-Za-z0-9_].
func SanitizeField(field string) (string, bool) {
	out := strings.Map(func(r rune) rune {
		if isIdentRune(r) {
			return r
		}
		return -1
	}, strings.TrimSpace(field))
	return out, out != field
}

// ValidField reports whether the trimmed name is non-empty and made only of [A-Za-z0-9_].
func ValidField(field string) bool {
	field = strings.TrimSpace(field)
	if field == "" {
		return false
	}
	for _, r := range field {
		if !isIdentRune(r) {
			return false
		}
	}
	return true
}

// SanitizeFields sanitizes each field in order. Fields that sanitize to ""
// are dropped.
func SanitizeFields(fields []string) ([]string, bool) {
	var (
		out      = make([]string, 0, len(fields))
		modified bool
	)
	for _, f := range fields {
		s, m := SanitizeField(f)
		modified = modified || m
		if s == "" {
			modified = true
			continue
		}
		out = append(out, s)
	}
	return out, modified
}

// toStrings coerces a loose option value into a string slice. A lone string
// becomes a one-element slice; unsupported types yield nil.
func toStrings(v any) []string {
	switch v := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch item := item.(type) {
			case string:
				out = append(out, item)
			case fmt.Stringer:
				out = append(out, item.String())
			}
		}
		return out
	}
	return nil
}

// GroupColumns normalizes a grouping specification: "", a single column name,
// or a sequence of names. Each column is sanitized and empty names are dropped.
func GroupColumns(v any) []string {
	cols, _ := SanitizeFields(toStrings(v))
	if len(cols) == 0 {
		return nil
	}
	return cols
}
