package postgres

import (
	"fmt"
	"sort"
	"strings"

	"apitap/internal/schema"
)

// ColumnDef and TableDef mirror the teacher's dialect-agnostic internal/ddl
// model, specialized here to Postgres column types.
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
}

type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// TableDefFromSchema maps an inferred schema.Schema onto Postgres column
// types, marking mergeKey fields as the primary key.
func TableDefFromSchema(fqn string, sch schema.Schema, mergeKey []string) (TableDef, error) {
	keySet := make(map[string]bool, len(mergeKey))
	for _, k := range mergeKey {
		keySet[k] = true
	}
	cols := make([]ColumnDef, 0, len(sch))
	for _, f := range sch {
		cols = append(cols, ColumnDef{
			Name:       f.Name,
			SQLType:    pgType(f),
			Nullable:   f.Nullable && !keySet[f.Name],
			PrimaryKey: keySet[f.Name],
		})
	}
	return TableDef{FQN: fqn, Columns: cols}, nil
}

func pgType(f schema.Field) string {
	switch f.Kind {
	case schema.KindBool:
		return "boolean"
	case schema.KindInt:
		return "bigint"
	case schema.KindFloat:
		return "double precision"
	case schema.KindTimestamp:
		return "timestamptz"
	case schema.KindBinary:
		return "bytea"
	case schema.KindList, schema.KindStruct:
		return "jsonb"
	case schema.KindString, schema.KindNull:
		fallthrough
	default:
		return "text"
	}
}

// BuildCreateTableSQL renders a CREATE TABLE IF NOT EXISTS statement,
// following the teacher's postgres.BuildCreateTableSQL rendering rules:
// double-quoted identifiers, NOT NULL for non-nullable/PK columns, and a
// trailing sorted PRIMARY KEY(...) clause when any column is keyed.
func BuildCreateTableSQL(td TableDef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", td.FQN)

	lines := make([]string, 0, len(td.Columns))
	var pk []string
	for _, c := range td.Columns {
		line := fmt.Sprintf("  %s %s", quoteIdent(c.Name), c.SQLType)
		if !c.Nullable || c.PrimaryKey {
			line += " NOT NULL"
		}
		lines = append(lines, line)
		if c.PrimaryKey {
			pk = append(pk, c.Name)
		}
	}
	if len(pk) > 0 {
		sort.Strings(pk)
		quoted := make([]string, len(pk))
		for i, k := range pk {
			quoted[i] = quoteIdent(k)
		}
		lines = append(lines, fmt.Sprintf("  PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}

	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n)")
	return b.String()
}
