package schema

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"gopkg.in/yaml.v3"
)

type Cache struct {
	mu     sync.RWMutex
	tables map[string]*TableDef
}

func NewCache() *Cache {
	return &Cache{
		tables: make(map[string]*TableDef),
	}
}

// NewCacheFromTables returns a cache pre-populated with the given tables.
func NewCacheFromTables(tables ...*TableDef) *Cache {
	c := NewCache()
	for _, t := range tables {
		if t.ColumnsByName == nil {
			t.reindex()
		}
		c.tables[t.Name] = t
	}
	return c
}

func columnsQuery(dialect Dialect, schemaName string) (string, []any, error) {
	return sq.Select("c.table_name", "c.column_name", "c.data_type", "c.ordinal_position").
		From("information_schema.columns c").
		Where(sq.Eq{"c.table_schema": schemaName}).
		OrderBy("c.table_name", "c.ordinal_position").
		PlaceholderFormat(dialect.Placeholder()).
		ToSql()
}

func primaryKeysQuery(dialect Dialect, schemaName string) (string, []any, error) {
	return sq.Select("k.table_name", "k.column_name").
		From("information_schema.table_constraints tc").
		Join("information_schema.key_column_usage k ON k.constraint_name = tc.constraint_name" +
			" AND k.table_schema = tc.table_schema AND k.table_name = tc.table_name").
		Where(sq.Eq{"tc.table_schema": schemaName, "tc.constraint_type": "PRIMARY KEY"}).
		OrderBy("k.table_name", "k.ordinal_position").
		PlaceholderFormat(dialect.Placeholder()).
		ToSql()
}

// Load replaces the cache contents with every table of schemaName.
func (c *Cache) Load(ctx context.Context, db *sql.DB, dialect Dialect, schemaName string) error {
	query, args, err := columnsQuery(dialect, schemaName)
	if err != nil {
		return fmt.Errorf("schema cache columns query: %w", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("schema cache load: %w", err)
	}
	defer rows.Close()

	tables := make(map[string]*TableDef)

	for rows.Next() {
		var (
			tableName  string
			columnName string
			dataType   string
			ordinal    int
		)
		if err := rows.Scan(&tableName, &columnName, &dataType, &ordinal); err != nil {
			return fmt.Errorf("schema cache scan: %w", err)
		}

		t, exists := tables[tableName]
		if !exists {
			t = &TableDef{
				Schema:  schemaName,
				Name:    tableName,
				Dialect: dialect,
			}
			tables[tableName] = t
		}
		t.Columns = append(t.Columns, ColumnDef{
			Name:     columnName,
			DataType: dataType,
			Ordinal:  ordinal,
		})
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("schema cache rows: %w", err)
	}

	if err := loadPrimaryKeys(ctx, db, dialect, schemaName, tables); err != nil {
		return err
	}

	for _, t := range tables {
		t.reindex()
	}

	c.mu.Lock()
	c.tables = tables
	c.mu.Unlock()

	return nil
}

// loadPrimaryKeys sets PrimaryKey to the first key column of each table.
func loadPrimaryKeys(ctx context.Context, db *sql.DB, dialect Dialect, schemaName string, tables map[string]*TableDef) error {
	query, args, err := primaryKeysQuery(dialect, schemaName)
	if err != nil {
		return fmt.Errorf("schema cache primary key query: %w", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("schema cache primary keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return fmt.Errorf("schema cache primary key scan: %w", err)
		}
		if t := tables[tableName]; t != nil && t.PrimaryKey == "" {
			t.PrimaryKey = columnName
		}
	}
	return rows.Err()
}

type schemaFile struct {
	Dialect Dialect     `yaml:"dialect"`
	Schema  string      `yaml:"schema"`
	Tables  []*TableDef `yaml:"tables"`
}

// LoadFile reads table definitions from a YAML file. Tables without their own
// dialect or schema inherit the file-level values.
func LoadFile(path string) (*Cache, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return ParseYAML(b)
}

func ParseYAML(b []byte) (*Cache, error) {
	var f schemaFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}
	if f.Dialect == "" {
		f.Dialect = MySQL
	}
	for i, t := range f.Tables {
		if t == nil || t.Name == "" {
			return nil, fmt.Errorf("parse schema file: table %d has no name", i)
		}
		if t.Dialect == "" {
			t.Dialect = f.Dialect
		}
		if t.Schema == "" {
			t.Schema = f.Schema
		}
		t.reindex()
	}
	return NewCacheFromTables(f.Tables...), nil
}

func (c *Cache) Get(name string) *TableDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tables[name]
}

// TableCount returns the number of loaded tables.
func (c *Cache) TableCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables)
}
