// Package schema infers a columnar Schema from a bounded prefix of decoded
// JSON rows (component C2). Inference walks a sample of rows, widening each
// field's observed Kind as new rows disagree with what was seen so far, and
// never revisits rows past the sample boundary: the table provider (C5)
// and batch converter (C3) then coerce every row — sampled or not — against
// the frozen result.
package schema

import (
	"fmt"
	"math"
	"sort"

	"apitap/internal/row"
)

// Kind identifies the coerced column type a Field settled on.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTimestamp
	KindBinary
	KindStruct
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindTimestamp:
		return "timestamp"
	case KindBinary:
		return "binary"
	case KindStruct:
		return "struct"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Field describes one inferred column.
type Field struct {
	Name     string
	Kind     Kind
	Nullable bool
	// Elem is the element Kind for a KindList field; zero value otherwise.
	Elem Kind
	// Fields carries the nested field set for a KindStruct field.
	Fields Schema
}

// Schema is an ordered set of Fields. Field order reflects first-seen order
// across the sample, matching the teacher's header-preserving CSV/JSON
// decoding style rather than a sorted canonical order.
type Schema []Field

func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Infer walks up to sampleSize rows (0 means "all rows in the slice") and
// produces the widened Schema. Rows are expected to already be the bounded
// sample prefix (C4 owns enforcing the bound); Infer itself just stops early
// as a defensive measure so callers that pass a longer slice by mistake
// don't pay for the whole thing.
func Infer(rows []row.Row, sampleSize int) Schema {
	order := make([]string, 0)
	seen := make(map[string]Field)

	n := len(rows)
	if sampleSize > 0 && sampleSize < n {
		n = sampleSize
	}

	for i := 0; i < n; i++ {
		for _, name := range sortedKeys(rows[i]) {
			v := rows[i][name]
			observed := kindOf(v)
			cur, ok := seen[name]
			if !ok {
				order = append(order, name)
				// A field first seen after row 0 was absent from the earlier rows.
				seen[name] = Field{Name: name, Kind: observed, Nullable: observed == KindNull || i > 0, Elem: elemKindOf(v), Fields: structFieldsOf(v)}
				continue
			}
			widened := widen(cur.Kind, observed)
			cur.Kind = widened
			if observed == KindNull {
				cur.Nullable = true
			}
			if widened == KindList && cur.Elem == KindNull {
				cur.Elem = elemKindOf(v)
			}
			seen[name] = cur
		}
		// Fields absent from this row but present in an earlier one
		// become nullable; this is the standard "sparse JSON" case.
		for name, f := range seen {
			if _, present := rows[i][name]; !present {
				f.Nullable = true
				seen[name] = f
			}
		}
	}

	out := make(Schema, 0, len(order))
	for _, name := range order {
		out = append(out, seen[name])
	}
	return out
}

func sortedKeys(r row.Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func kindOf(v any) Kind {
	switch n := v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case float64:
		// encoding/json decodes every JSON number as float64; recover the
		// i64/f64 distinction the spec's widening lattice needs by checking
		// whether the value round-trips through an integer unchanged.
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return KindInt
		}
		return KindFloat
	case string:
		return KindString
	case map[string]any:
		return KindStruct
	case []any:
		return KindList
	default:
		return KindString
	}
}

func elemKindOf(v any) Kind {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return KindNull
	}
	k := kindOf(arr[0])
	for _, e := range arr[1:] {
		k = widen(k, kindOf(e))
	}
	return k
}

func structFieldsOf(v any) Schema {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	rows := []row.Row{row.Row(m)}
	return Infer(rows, 0)
}

// widen implements the spec's type-widening lattice:
//
//	int ⊔ float   = float
//	bool ⊔ number = number (float, since json numbers are float64)
//	anything else that disagrees = string
//	null ⊔ X = X (absence never forces widening by itself)
func widen(a, b Kind) Kind {
	if a == b {
		return a
	}
	if a == KindNull {
		return b
	}
	if b == KindNull {
		return a
	}
	numeric := func(k Kind) bool { return k == KindInt || k == KindFloat }
	if numeric(a) && numeric(b) {
		return KindFloat
	}
	if (a == KindBool && numeric(b)) || (b == KindBool && numeric(a)) {
		return KindFloat
	}
	return KindString
}

// Validate reports an error for an empty schema; callers treat an empty
// sample (zero rows observed) as a Schema-coercion-class error per the
// error taxonomy, not an engine-class one.
func Validate(s Schema) error {
	if len(s) == 0 {
		return fmt.Errorf("schema: no fields inferred from sample")
	}
	return nil
}
