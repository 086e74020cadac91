package schema

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestCacheLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns c WHERE c.table_schema = $1")).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type", "ordinal_position"}).
			AddRow("wp_posts", "ID", "bigint", 1).
			AddRow("wp_posts", "post_title", "text", 2).
			AddRow("wp_postmeta", "meta_id", "bigint", 1).
			AddRow("wp_postmeta", "meta_value", "longtext", 2))
	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.table_constraints tc JOIN information_schema.key_column_usage k")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}).
			AddRow("wp_posts", "ID").
			AddRow("wp_postmeta", "meta_id"))

	c := NewCache()
	if err := c.Load(context.Background(), db, Postgres, "public"); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}

	if c.TableCount() != 2 {
		t.Fatalf("expected 2 tables, got %d", c.TableCount())
	}
	posts := c.Get("wp_posts")
	if posts == nil {
		t.Fatal("wp_posts not loaded")
	}
	want := []ColumnDef{
		{Name: "ID", DataType: "bigint", Ordinal: 1},
		{Name: "post_title", DataType: "text", Ordinal: 2},
	}
	if diff := cmp.Diff(want, posts.Columns); diff != "" {
		t.Fatalf("columns mismatch (-want +got):\n%s", diff)
	}
	if posts.PrimaryKey != "ID" {
		t.Fatalf("expected primary key ID, got %q", posts.PrimaryKey)
	}
	if !posts.Column("ID").IsNumeric() || posts.Column("post_title").IsNumeric() {
		t.Fatal("numeric detection wrong for wp_posts")
	}
	if got := posts.TableName(); got != `"public"."wp_posts"` {
		t.Fatalf("unexpected table name %q", got)
	}
}

func TestCacheLoadQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("information_schema.columns").WillReturnError(context.DeadlineExceeded)

	c := NewCacheFromTables(NewTable(MySQL, "", "kept", "id", ColumnDef{Name: "id", DataType: "int"}))
	if err := c.Load(context.Background(), db, MySQL, "wordpress"); err == nil {
		t.Fatal("expected error")
	}
	// A failed load keeps the previous contents.
	if c.Get("kept") == nil {
		t.Fatal("previous tables were dropped on failed load")
	}
}

func TestColumnIsNumeric(t *testing.T) {
	tests := []struct {
		dataType string
		want     bool
	}{
		{"int", true},
		{"INT(11) UNSIGNED", true},
		{"bigint unsigned", true},
		{"decimal(10,2)", true},
		{"double precision", true},
		{"numeric", true},
		{"money", true},
		{"varchar", false},
		{"longtext", false},
		{"datetime", false},
		{"", false},
	}
	for _, tt := range tests {
		c := ColumnDef{Name: "c", DataType: tt.dataType}
		if got := c.IsNumeric(); got != tt.want {
			t.Errorf("IsNumeric(%q) = %v, want %v", tt.dataType, got, tt.want)
		}
	}
}

func TestDialectQuoting(t *testing.T) {
	if got := MySQL.QuoteIdent("we`ird"); got != "`we``ird`" {
		t.Errorf("mysql quote: %q", got)
	}
	if got := Postgres.QuoteIdent(`we"ird`); got != `"we""ird"` {
		t.Errorf("postgres quote: %q", got)
	}
	tbl := NewTable(MySQL, "", "wp_posts", "ID")
	if got := tbl.TableName(); got != "`wp_posts`" {
		t.Errorf("table name: %q", got)
	}
}

func TestParseYAML(t *testing.T) {
	doc := []byte(`
dialect: mysql
schema: wordpress
tables:
  - name: wp_orders
    primary_key: id
    columns:
      - {name: id, type: bigint}
      - {name: price, type: "decimal(10,2)"}
      - {name: status, type: varchar}
  - name: pg_table
    dialect: postgres
    schema: public
    columns:
      - {name: n, type: integer}
`)
	c, err := ParseYAML(doc)
	if err != nil {
		t.Fatal(err)
	}
	orders := c.Get("wp_orders")
	if orders == nil {
		t.Fatal("wp_orders missing")
	}
	if orders.Dialect != MySQL || orders.Schema != "wordpress" {
		t.Fatalf("inheritance failed: %+v", orders)
	}
	if !orders.HasColumn("price") || !orders.Column("price").IsNumeric() {
		t.Fatal("price should be a numeric column")
	}
	if orders.Column("status").Ordinal != 3 {
		t.Fatalf("expected ordinal 3, got %d", orders.Column("status").Ordinal)
	}

	pg := c.Get("pg_table")
	want := &TableDef{Schema: "public", Name: "pg_table", Dialect: Postgres,
		Columns: []ColumnDef{{Name: "n", DataType: "integer", Ordinal: 1}}}
	if diff := cmp.Diff(want, pg, cmpopts.IgnoreFields(TableDef{}, "ColumnsByName")); diff != "" {
		t.Fatalf("pg_table mismatch (-want +got):\n%s", diff)
	}
}

func TestParseYAMLRejectsUnnamedTable(t *testing.T) {
	docs := map[string]string{
		"missing name": "tables:\n  - columns: []\n",
		"null entry":   "tables:\n  - ~\n",
		"empty entry":  "tables:\n  -\n",
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			_, err := ParseYAML([]byte(doc))
			if err == nil || !strings.Contains(err.Error(), "has no name") {
				t.Fatalf("expected missing name error, got %v", err)
			}
		})
	}
}
