package schema

import (
	"testing"

	"apitap/internal/row"
)

func TestInferWidensNumericTypes(t *testing.T) {
	t.Parallel()

	rows := []row.Row{
		{"id": float64(1), "score": float64(3)},
		{"id": float64(2), "score": float64(3.5)},
	}

	sch := Infer(rows, 0)

	f, ok := sch.Field("score")
	if !ok {
		t.Fatalf("Field(score) not found in %v", sch)
	}
	if f.Kind != KindFloat {
		t.Fatalf("score kind = %v, want %v", f.Kind, KindFloat)
	}
}

func TestInferBoolWidensWithNumberToFloat(t *testing.T) {
	t.Parallel()

	rows := []row.Row{
		{"flag": true},
		{"flag": float64(1)},
	}

	sch := Infer(rows, 0)
	f, _ := sch.Field("flag")
	if f.Kind != KindFloat {
		t.Fatalf("flag kind = %v, want %v", f.Kind, KindFloat)
	}
}

func TestInferDisagreementFallsBackToString(t *testing.T) {
	t.Parallel()

	rows := []row.Row{
		{"v": "hello"},
		{"v": float64(1)},
	}

	sch := Infer(rows, 0)
	f, _ := sch.Field("v")
	if f.Kind != KindString {
		t.Fatalf("v kind = %v, want %v", f.Kind, KindString)
	}
}

func TestInferNullDoesNotForceWidening(t *testing.T) {
	t.Parallel()

	rows := []row.Row{
		{"v": nil},
		{"v": float64(1)},
	}

	sch := Infer(rows, 0)
	f, _ := sch.Field("v")
	if f.Kind != KindInt {
		t.Fatalf("v kind = %v, want %v", f.Kind, KindInt)
	}
	if !f.Nullable {
		t.Fatalf("v nullable = false, want true")
	}
}

func TestInferDistinguishesIntFromFloat(t *testing.T) {
	t.Parallel()

	rows := []row.Row{
		{"whole": float64(3), "frac": float64(3.5)},
	}

	sch := Infer(rows, 0)
	whole, _ := sch.Field("whole")
	if whole.Kind != KindInt {
		t.Fatalf("whole kind = %v, want %v", whole.Kind, KindInt)
	}
	frac, _ := sch.Field("frac")
	if frac.Kind != KindFloat {
		t.Fatalf("frac kind = %v, want %v", frac.Kind, KindFloat)
	}
}

func TestInferMarksFieldsAbsentFromSomeRowsAsNullable(t *testing.T) {
	t.Parallel()

	rows := []row.Row{
		{"a": float64(1), "b": float64(2)},
		{"a": float64(1)},
	}

	sch := Infer(rows, 0)
	b, _ := sch.Field("b")
	if !b.Nullable {
		t.Fatalf("b nullable = false, want true")
	}
	a, _ := sch.Field("a")
	if a.Nullable {
		t.Fatalf("a nullable = true, want false")
	}
}

func TestInferRespectsSampleSize(t *testing.T) {
	t.Parallel()

	rows := []row.Row{
		{"v": float64(1)},
		{"v": "only seen past the sample boundary"},
	}

	sch := Infer(rows, 1)
	f, _ := sch.Field("v")
	if f.Kind != KindInt {
		t.Fatalf("v kind = %v, want %v (sample boundary should exclude row 2)", f.Kind, KindInt)
	}
}

func TestValidateRejectsEmptySchema(t *testing.T) {
	t.Parallel()

	if err := Validate(Schema{}); err == nil {
		t.Fatalf("Validate(empty) error = nil, want non-nil")
	}
	if err := Validate(Schema{{Name: "a", Kind: KindString}}); err != nil {
		t.Fatalf("Validate(non-empty) error = %v, want nil", err)
	}
}

func TestInferNestedListAndStruct(t *testing.T) {
	t.Parallel()

	rows := []row.Row{
		{"tags": []any{"x", "y"}, "meta": map[string]any{"k": float64(1)}},
	}

	sch := Infer(rows, 0)

	tags, _ := sch.Field("tags")
	if tags.Kind != KindList || tags.Elem != KindString {
		t.Fatalf("tags = %+v, want list of string", tags)
	}

	meta, _ := sch.Field("meta")
	if meta.Kind != KindStruct {
		t.Fatalf("meta.Kind = %v, want %v", meta.Kind, KindStruct)
	}
	if len(meta.Fields) != 1 || meta.Fields[0].Name != "k" {
		t.Fatalf("meta.Fields = %+v, want one field named k", meta.Fields)
	}
}
