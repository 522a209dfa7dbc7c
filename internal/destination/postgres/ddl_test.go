package postgres

import (
	"strings"
	"testing"

	"apitap/internal/schema"
)

func TestBuildCreateTableSQLIncludesPrimaryKeyClause(t *testing.T) {
	t.Parallel()

	sch := schema.Schema{
		{Name: "id", Kind: schema.KindInt},
		{Name: "email", Kind: schema.KindString, Nullable: true},
	}
	td, err := TableDefFromSchema("public.users", sch, []string{"id"})
	if err != nil {
		t.Fatalf("TableDefFromSchema() error = %v", err)
	}

	ddl := BuildCreateTableSQL(td)
	if !strings.Contains(ddl, `CREATE TABLE IF NOT EXISTS public.users`) {
		t.Fatalf("ddl missing table header: %s", ddl)
	}
	if !strings.Contains(ddl, `"id" bigint NOT NULL`) {
		t.Fatalf("ddl missing id column: %s", ddl)
	}
	if !strings.Contains(ddl, `"email" text`) || strings.Contains(ddl, `"email" text NOT NULL`) {
		t.Fatalf("ddl should declare email nullable: %s", ddl)
	}
	if !strings.Contains(ddl, `PRIMARY KEY ("id")`) {
		t.Fatalf("ddl missing primary key clause: %s", ddl)
	}
}

func TestBuildCreateTableSQLOmitsPrimaryKeyWhenNoMergeKey(t *testing.T) {
	t.Parallel()

	sch := schema.Schema{{Name: "x", Kind: schema.KindString}}
	td, _ := TableDefFromSchema("t", sch, nil)
	ddl := BuildCreateTableSQL(td)
	if strings.Contains(ddl, "PRIMARY KEY") {
		t.Fatalf("ddl should not contain PRIMARY KEY: %s", ddl)
	}
}

func TestPgTypeMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind schema.Kind
		want string
	}{
		{schema.KindBool, "boolean"},
		{schema.KindInt, "bigint"},
		{schema.KindFloat, "double precision"},
		{schema.KindTimestamp, "timestamptz"},
		{schema.KindBinary, "bytea"},
		{schema.KindList, "jsonb"},
		{schema.KindStruct, "jsonb"},
		{schema.KindString, "text"},
	}
	for _, c := range cases {
		if got := pgType(schema.Field{Kind: c.kind}); got != c.want {
			t.Errorf("pgType(%v) = %q, want %q", c.kind, got, c.want)
		}
	}
}
