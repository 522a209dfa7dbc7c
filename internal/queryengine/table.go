// Package queryengine implements component C5: exposing a C4 stream
// factory as a queryable table inside an embedded github.com/dolthub/
// go-mysql-server engine. It is grounded on the retrieval pack's
// arrowtable.ArrowBackedTable (a pre-loaded Arrow table wrapped as a
// sql.Table), adapted here to wrap a *streamfactory.Factory instead of a
// static table: every scan opens a fresh factory stream, runs it through
// the C3 batch builder, and iterates the resulting Arrow RecordBatches —
// re-entrant access (the factory itself resolving repeated Opens) is what
// makes it safe for the engine to scan the same source table more than
// once within a query plan.
package queryengine

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	gmstypes "github.com/dolthub/go-mysql-server/sql/types"

	"github.com/dolthub/go-mysql-server/sql"

	"apitap/internal/batch"
	"apitap/internal/row"
	"apitap/internal/schema"
	"apitap/internal/streamfactory"
)

// StreamTable adapts one source's stream factory into a sql.Table.
type StreamTable struct {
	name      string
	sch       schema.Schema
	sqlSchema sql.Schema
	batchSize int
	strict    bool
	factory   *streamfactory.Factory
}

// NewStreamTable builds a StreamTable. The factory is opened once per scan
// (PartitionRows), never up front, so schema inference (via Factory.Sample)
// and execution can proceed independently. strict is forwarded to every
// batch.Builder this table creates (see batch.NewBuilder).
func NewStreamTable(name string, sch schema.Schema, batchSize int, strict bool, factory *streamfactory.Factory) (*StreamTable, error) {
	sqlSchema, err := sqlSchemaFor(name, sch)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = batch.DefaultSize
	}
	return &StreamTable{name: name, sch: sch, sqlSchema: sqlSchema, batchSize: batchSize, strict: strict, factory: factory}, nil
}

func sqlSchemaFor(table string, sch schema.Schema) (sql.Schema, error) {
	out := make(sql.Schema, 0, len(sch))
	for _, f := range sch {
		t, err := sqlType(f)
		if err != nil {
			return nil, err
		}
		out = append(out, &sql.Column{Name: f.Name, Type: t, Nullable: f.Nullable, Source: table})
	}
	return out, nil
}

func sqlType(f schema.Field) (sql.Type, error) {
	switch f.Kind {
	case schema.KindBool:
		return gmstypes.Boolean, nil
	case schema.KindInt:
		return gmstypes.Int64, nil
	case schema.KindFloat:
		return gmstypes.Float64, nil
	case schema.KindTimestamp:
		return gmstypes.Timestamp, nil
	case schema.KindBinary:
		return gmstypes.Blob, nil
	case schema.KindList, schema.KindStruct, schema.KindString, schema.KindNull:
		return gmstypes.Text, nil
	default:
		return nil, fmt.Errorf("queryengine: unsupported field kind %v for column %q", f.Kind, f.Name)
	}
}

func (t *StreamTable) Name() string      { return t.name }
func (t *StreamTable) String() string    { return t.name }
func (t *StreamTable) Schema() sql.Schema { return t.sqlSchema }
func (t *StreamTable) Collation() sql.CollationID { return sql.Collation_Default }

type singlePartition struct{}

func (singlePartition) Key() []byte { return []byte("0") }

func (t *StreamTable) Partitions(*sql.Context) (sql.PartitionIter, error) {
	return sql.PartitionsToPartitionIter(singlePartition{}), nil
}

func (t *StreamTable) PartitionRows(ctx *sql.Context, _ sql.Partition) (sql.RowIter, error) {
	var goCtx context.Context = context.Background()
	if ctx != nil {
		goCtx = ctx
	}
	s, err := t.factory.Open(goCtx)
	if err != nil {
		return nil, fmt.Errorf("queryengine: open %s: %w", t.name, err)
	}
	return &streamRowIter{ctx: goCtx, stream: s, schema: t.sch, builder: batch.NewBuilder(t.sch, t.batchSize, t.strict)}, nil
}

var _ sql.Table = (*StreamTable)(nil)

// streamRowIter drains the source stream through the batch builder so that
// rows are always materialized via the same Arrow-record path the real
// query engine would consume, then unpacks each Arrow record column by
// column into sql.Row values.
type streamRowIter struct {
	ctx     context.Context
	stream  row.Stream
	schema  schema.Schema
	builder *batch.Builder

	rec    arrow.Record
	recPos int
	eof    bool
}

func (it *streamRowIter) Next(*sql.Context) (sql.Row, error) {
	for {
		if it.rec != nil && it.recPos < int(it.rec.NumRows()) {
			r := rowFromRecord(it.rec, it.recPos)
			it.recPos++
			return r, nil
		}
		if it.rec != nil {
			it.rec.Release()
			it.rec = nil
		}
		if it.eof {
			return nil, io.EOF
		}
		if err := it.fillNextBatch(); err != nil {
			return nil, err
		}
	}
}

func (it *streamRowIter) fillNextBatch() error {
	for !it.builder.Full() {
		r, ok, err := it.stream.Next(it.ctx)
		if err != nil {
			return err
		}
		if !ok {
			it.eof = true
			break
		}
		if err := it.builder.Add(r); err != nil {
			return err
		}
	}
	it.rec = it.builder.Flush()
	it.recPos = 0
	return nil
}

func (it *streamRowIter) Close(*sql.Context) error {
	if it.rec != nil {
		it.rec.Release()
		it.rec = nil
	}
	return it.stream.Close()
}

func rowFromRecord(rec arrow.Record, i int) sql.Row {
	out := make(sql.Row, rec.NumCols())
	for c := 0; c < int(rec.NumCols()); c++ {
		out[c] = valueAt(rec.Column(c), i)
	}
	return out
}

func valueAt(col arrow.Array, i int) any {
	if col.IsNull(i) {
		return nil
	}
	switch a := col.(type) {
	case *array.Boolean:
		return a.Value(i)
	case *array.Int64:
		return a.Value(i)
	case *array.Float64:
		return a.Value(i)
	case *array.String:
		return a.Value(i)
	case *array.Binary:
		return a.Value(i)
	case *array.Timestamp:
		return a.Value(i).ToTime(arrow.Microsecond)
	case *array.List:
		start, end := a.ValueOffsets(i)
		elems := make([]any, 0, end-start)
		for j := start; j < end; j++ {
			elems = append(elems, valueAt(a.ListValues(), int(j)))
		}
		return elems
	default:
		return nil
	}
}
