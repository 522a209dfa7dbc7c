package module

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseExtractsSinkAndSources(t *testing.T) {
	t.Parallel()

	text := `{{ sink(name="orders_by_day") }}
select customer_id, count(*) as n
from {{ use_source("orders") }}
join {{ use_source("customers") }} on true
group by customer_id`

	m, err := Parse("orders_by_day.sql", text)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if m.Sink != "orders_by_day" {
		t.Fatalf("Sink = %q, want %q", m.Sink, "orders_by_day")
	}
	if want := []string{"orders", "customers"}; !equalStrings(m.Sources, want) {
		t.Fatalf("Sources = %v, want %v", m.Sources, want)
	}
	if strings.Contains(m.SQL, "use_source") || strings.Contains(m.SQL, "sink(") {
		t.Fatalf("SQL still contains template syntax: %q", m.SQL)
	}
	if !strings.Contains(m.SQL, "from orders") {
		t.Fatalf("SQL = %q, want use_source(\"orders\") replaced by bare identifier", m.SQL)
	}
}

func TestParseDedupesRepeatedUseSource(t *testing.T) {
	t.Parallel()

	text := `{{ sink(name="s") }}
select * from {{ use_source("a") }} union select * from {{ use_source("a") }}`

	m, err := Parse("m.sql", text)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(m.Sources) != 1 || m.Sources[0] != "a" {
		t.Fatalf("Sources = %v, want [a]", m.Sources)
	}
}

func TestParseRequiresSink(t *testing.T) {
	t.Parallel()

	_, err := Parse("m.sql", `select * from {{ use_source("a") }}`)
	if err == nil {
		t.Fatalf("Parse() error = nil, want error for missing sink()")
	}
}

func TestParseRequiresAtLeastOneSource(t *testing.T) {
	t.Parallel()

	_, err := Parse("m.sql", `{{ sink(name="s") }} select 1`)
	if err == nil {
		t.Fatalf("Parse() error = nil, want error for missing use_source()")
	}
}

func TestLoadWalksDirectoryInSortedOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("b.sql", `{{ sink(name="b") }} select * from {{ use_source("x") }}`)
	write("a.sql", `{{ sink(name="a") }} select * from {{ use_source("y") }}`)
	write("readme.txt", "not a module")

	mods, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(mods) != 2 {
		t.Fatalf("Load() returned %d modules, want 2", len(mods))
	}
	if mods[0].Name != "a.sql" || mods[1].Name != "b.sql" {
		t.Fatalf("Load() order = [%s, %s], want [a.sql, b.sql]", mods[0].Name, mods[1].Name)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
