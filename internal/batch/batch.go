// Package batch implements component C3: converting decoded JSON rows into
// fixed-size Arrow RecordBatches against a frozen schema.Schema. This is the
// columnar boundary the embedded query engine (C5) scans across, using
// github.com/apache/arrow/go/v15 the same way the retrieval pack's
// AutoNormDB example uses it to back a go-mysql-server sql.Table.
package batch

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"

	"apitap/internal/row"
	"apitap/internal/schema"
)

// DefaultSize is the batch row count used when a source doesn't override
// it.
const DefaultSize = 1024

// ArrowSchema converts an inferred Schema into an Arrow schema, widening
// every field's Kind into the corresponding Arrow DataType.
func ArrowSchema(s schema.Schema) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(s))
	for _, f := range s {
		fields = append(fields, arrow.Field{Name: f.Name, Type: arrowType(f), Nullable: f.Nullable})
	}
	return arrow.NewSchema(fields, nil)
}

func arrowType(f schema.Field) arrow.DataType {
	switch f.Kind {
	case schema.KindBool:
		return arrow.FixedWidthTypes.Boolean
	case schema.KindInt:
		return arrow.PrimitiveTypes.Int64
	case schema.KindFloat:
		return arrow.PrimitiveTypes.Float64
	case schema.KindTimestamp:
		return arrow.FixedWidthTypes.Timestamp_us
	case schema.KindBinary:
		return arrow.BinaryTypes.Binary
	case schema.KindList:
		return arrow.ListOf(arrowElemType(f.Elem))
	case schema.KindStruct, schema.KindString, schema.KindNull:
		fallthrough
	default:
		return arrow.BinaryTypes.String
	}
}

func arrowElemType(k schema.Kind) arrow.DataType {
	switch k {
	case schema.KindBool:
		return arrow.FixedWidthTypes.Boolean
	case schema.KindInt:
		return arrow.PrimitiveTypes.Int64
	case schema.KindFloat:
		return arrow.PrimitiveTypes.Float64
	default:
		return arrow.BinaryTypes.String
	}
}

// Builder accumulates rows into Arrow RecordBatches of exactly `size` rows
// (the final batch may be shorter).
type Builder struct {
	schema  schema.Schema
	arrow   *arrow.Schema
	size    int
	pool    memory.Allocator
	builder *array.RecordBuilder
	n       int
	strict  bool
}

// NewBuilder constructs a Builder for the frozen schema s. strict selects
// the §7 schema-coercion policy for values that don't fit their column's
// settled Kind: false (the default) coerces to null and logs; true makes
// the same mismatch a hard error from Add.
func NewBuilder(s schema.Schema, size int, strict bool) *Builder {
	if size <= 0 {
		size = DefaultSize
	}
	as := ArrowSchema(s)
	pool := memory.NewGoAllocator()
	return &Builder{schema: s, arrow: as, size: size, pool: pool, builder: array.NewRecordBuilder(pool, as), strict: strict}
}

// Add appends one row, coercing each value against the frozen schema. In
// strict mode, a value that cannot be widened into its column's settled
// Kind surfaces to the caller as a Schema-coercion-class error per the
// error taxonomy; otherwise it is written as null and logged (§7 default).
func (b *Builder) Add(r row.Row) error {
	for i, f := range b.schema {
		v, present := r[f.Name]
		if err := appendValue(b.builder.Field(i), f, v, present, b.strict); err != nil {
			return fmt.Errorf("batch: column %q: %w", f.Name, err)
		}
	}
	b.n++
	return nil
}

// Full reports whether Add has accumulated a whole batch's worth of rows.
func (b *Builder) Full() bool { return b.n >= b.size }

// Len returns the number of rows accumulated since the last Flush.
func (b *Builder) Len() int { return b.n }

// Flush finalizes the current batch into an arrow.Record and resets the
// builder for the next one. Flushing an empty builder returns nil.
func (b *Builder) Flush() arrow.Record {
	if b.n == 0 {
		return nil
	}
	rec := b.builder.NewRecord()
	b.n = 0
	return rec
}

func appendValue(fb array.Builder, f schema.Field, v any, present bool, strict bool) error {
	if !present || v == nil {
		fb.AppendNull()
		return nil
	}
	switch f.Kind {
	case schema.KindBool:
		bv, ok := toBool(v)
		if !ok {
			return coerceOrFail(fb, f, v, strict, "bool")
		}
		fb.(*array.BooleanBuilder).Append(bv)
	case schema.KindInt:
		n, ok := toFloat(v)
		if !ok {
			return coerceOrFail(fb, f, v, strict, "number")
		}
		fb.(*array.Int64Builder).Append(int64(n))
	case schema.KindFloat:
		n, ok := toFloat(v)
		if !ok {
			return coerceOrFail(fb, f, v, strict, "number")
		}
		fb.(*array.Float64Builder).Append(n)
	case schema.KindList:
		arr, ok := v.([]any)
		if !ok {
			return coerceOrFail(fb, f, v, strict, "array")
		}
		lb := fb.(*array.ListBuilder)
		lb.Append(true)
		vb := lb.ValueBuilder()
		for _, e := range arr {
			elemField := schema.Field{Name: "", Kind: f.Elem}
			if err := appendValue(vb, elemField, e, true, strict); err != nil {
				return err
			}
		}
	default:
		fb.(*array.StringBuilder).Append(stringify(v))
	}
	return nil
}

// coerceOrFail implements the §7 schema-coercion policy for a value that
// doesn't fit its column's settled Kind. The column itself is already a
// fixed-type Arrow array (not a variant column), so "coerce to string" from
// the spec's wording isn't applicable per-column; the faithful equivalent
// here is null, the other half of that policy, since every column not
// already KindString is nullable-safe by construction. In strict mode the
// mismatch is a hard error instead.
func coerceOrFail(fb array.Builder, f schema.Field, v any, strict bool, wantKind string) error {
	if strict {
		return fmt.Errorf("expected %s, got %T", wantKind, v)
	}
	log.Printf("batch: column %q: coercing unsupported %T value %v to null (want %s)", f.Name, v, v, wantKind)
	fb.AppendNull()
	return nil
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case float64:
		return b != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		default:
			return false, false
		}
	default:
		return false, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprintf("%v", s)
	}
}
