package schema

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect identifies the SQL flavor a table lives in.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
)

// QuoteIdent quotes a SQL identifier for the dialect, escaping embedded quotes.
func (d Dialect) QuoteIdent(name string) string {
	if d == MySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return QuoteIdent(name)
}

// Placeholder returns the squirrel placeholder format for the dialect.
func (d Dialect) Placeholder() sq.PlaceholderFormat {
	if d == Postgres {
		return sq.Dollar
	}
	return sq.Question
}

// QuoteIdent quotes a SQL identifier, escaping embedded double quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// numericTypes are the information_schema data_type values of MySQL and Postgres
// that hold numbers.
var numericTypes = map[string]bool{
	"tinyint":          true,
	"smallint":         true,
	"mediumint":        true,
	"int":              true,
	"integer":          true,
	"bigint":           true,
	"decimal":          true,
	"numeric":          true,
	"float":            true,
	"double":           true,
	"double precision": true,
	"real":             true,
	"bit":              true,
	"serial":           true,
	"bigserial":        true,
	"smallserial":      true,
	"money":            true,
}

type ColumnDef struct {
	Name     string `yaml:"name"`
	DataType string `yaml:"type"`
	Ordinal  int    `yaml:"-"`
}

// IsNumeric returns true if the column can take part in an arithmetic aggregate.
// Unsigned and width suffixes ("int(11) unsigned") are ignored.
func (c *ColumnDef) IsNumeric() bool {
	t := strings.ToLower(strings.TrimSpace(c.DataType))
	if i := strings.IndexAny(t, "( "); i >= 0 && !numericTypes[t] {
		t = t[:i]
	}
	return numericTypes[t]
}

type TableDef struct {
	Schema        string                `yaml:"schema"`
	Name          string                `yaml:"name"`
	PrimaryKey    string                `yaml:"primary_key"`
	Dialect       Dialect               `yaml:"dialect"`
	Columns       []ColumnDef           `yaml:"columns"`
	ColumnsByName map[string]*ColumnDef `yaml:"-"`
}

// NewTable returns a table definition with its column index built.
func NewTable(dialect Dialect, schemaName, name, primaryKey string, columns ...ColumnDef) *TableDef {
	t := &TableDef{
		Schema:     schemaName,
		Name:       name,
		PrimaryKey: primaryKey,
		Dialect:    dialect,
		Columns:    columns,
	}
	t.reindex()
	return t
}

func (t *TableDef) reindex() {
	t.ColumnsByName = make(map[string]*ColumnDef, len(t.Columns))
	for i := range t.Columns {
		if t.Columns[i].Ordinal == 0 {
			t.Columns[i].Ordinal = i + 1
		}
		t.ColumnsByName[t.Columns[i].Name] = &t.Columns[i]
	}
}

func (t *TableDef) Column(name string) *ColumnDef {
	return t.ColumnsByName[name]
}

func (t *TableDef) HasColumn(name string) bool {
	_, ok := t.ColumnsByName[name]
	return ok
}

// TableName returns the qualified, quoted table name.
func (t *TableDef) TableName() string {
	if t.Schema != "" {
		return t.Dialect.QuoteIdent(t.Schema) + "." + t.Dialect.QuoteIdent(t.Name)
	}
	return t.Dialect.QuoteIdent(t.Name)
}
