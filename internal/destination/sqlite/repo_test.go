package sqlite

import (
	"strings"
	"testing"

	"apitap/internal/schema"
)

func TestConflictSetExcludesMergeKey(t *testing.T) {
	t.Parallel()

	got := conflictSet([]string{"id", "name"}, []string{"id"})
	if got != "name = excluded.name" {
		t.Fatalf("conflictSet() = %q, want %q", got, "name = excluded.name")
	}
}

func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	sch := schema.Schema{
		{Name: "id", Kind: schema.KindInt},
		{Name: "name", Kind: schema.KindString},
	}
	ddl := buildCreateTableSQL("widgets", sch, []string{"id"})
	if !strings.Contains(ddl, "CREATE TABLE IF NOT EXISTS widgets") {
		t.Fatalf("ddl missing header: %s", ddl)
	}
	if !strings.Contains(ddl, "id INTEGER NOT NULL") {
		t.Fatalf("ddl missing id column: %s", ddl)
	}
	if !strings.Contains(ddl, "PRIMARY KEY (id)") {
		t.Fatalf("ddl missing primary key clause: %s", ddl)
	}
}

func TestSqliteTypeMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind schema.Kind
		want string
	}{
		{schema.KindBool, "BOOLEAN"},
		{schema.KindInt, "INTEGER"},
		{schema.KindFloat, "REAL"},
		{schema.KindBinary, "BLOB"},
		{schema.KindString, "TEXT"},
	}
	for _, c := range cases {
		if got := sqliteType(schema.Field{Kind: c.kind}); got != c.want {
			t.Errorf("sqliteType(%v) = %q, want %q", c.kind, got, c.want)
		}
	}
}
