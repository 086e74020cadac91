package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atlekbai/query_aggregate/internal/query"
)

const testSchema = `
dialect: mysql
tables:
  - name: wp_orders
    primary_key: id
    columns:
      - {name: id, type: bigint}
      - {name: user_id, type: bigint}
      - {name: price, type: "decimal(10,2)"}
      - {name: tax, type: "decimal(10,2)"}
      - {name: status, type: varchar}
  - name: pg_orders
    dialect: postgres
    schema: public
    primary_key: id
    columns:
      - {name: id, type: bigint}
      - {name: price, type: numeric}
`

func writeSchema(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(path, []byte(testSchema), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestRenderCommand(t *testing.T) {
	out, err := execute(t, "render",
		"--schema", writeSchema(t),
		"--table", "wp_orders",
		"--function", "sum",
		"--fields", "price,tax",
		"--group-by", "user_id",
		"--filter", "status=eq.completed",
	)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"select: t.user_id, SUM(t.price + t.tax) AS aggregated_value",
		"sql:    SELECT t.user_id, SUM(t.price + t.tax) AS aggregated_value FROM `wp_orders` t WHERE t.status = ? GROUP BY t.user_id LIMIT 100",
		"args:   [completed]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderCommandGroupConcat(t *testing.T) {
	out, err := execute(t, "render",
		"--schema", writeSchema(t),
		"--table", "wp_orders",
		"--function", "GROUP_CONCAT",
		"--fields", "user_id,price",
		"--alias", "o",
	)
	if err != nil {
		t.Fatal(err)
	}
	want := "select: GROUP_CONCAT(DISTINCT CONCAT(o.user_id, '|', o.price) SEPARATOR '|') AS aggregated_value"
	if !strings.Contains(out, want) {
		t.Fatalf("output missing %q:\n%s", want, out)
	}
}

func TestRenderCommandErrors(t *testing.T) {
	schemaPath := writeSchema(t)

	_, err := execute(t, "render", "--schema", schemaPath, "--table", "wp_orders", "--function", "bogus", "--fields", "price")
	if !errors.Is(err, query.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}

	if _, err := execute(t, "render", "--schema", schemaPath, "--table", "wp_nope", "--function", "SUM", "--fields", "price"); err == nil {
		t.Fatal("expected unknown table error")
	}
	if _, err := execute(t, "render", "--schema", schemaPath, "--table", "wp_orders", "--function", "SUM", "--fields", "price", "--filter", "status"); err == nil {
		t.Fatal("expected invalid filter error")
	}
	_, err = execute(t, "render", "--schema", schemaPath, "--table", "pg_orders", "--function", "GROUP_CONCAT", "--fields", "price")
	if err == nil || !strings.Contains(err.Error(), "not available on postgres") {
		t.Fatalf("expected dialect error, got %v", err)
	}
	if _, err := execute(t, "render", "--table", "wp_orders"); err == nil {
		t.Fatal("expected missing --schema error")
	}
}
