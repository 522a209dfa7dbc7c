// Package pagewriter implements component C7: the PageWriter contract and
// its state machine (Idle → Begun → Streaming → Committed|Failed), grounded
// on the original implementation's PageWriter trait (begin/write_page/
// write_page_stream/on_page_error/commit). The pipeline runner (C9) splits
// a single SQL-module query result into write-sized pages and hands each
// one through a PageWriter to a destination.Repository.
package pagewriter

import (
	"context"
	"fmt"
	"sync"

	"github.com/dolthub/go-mysql-server/sql"
)

// State enumerates the PageWriter lifecycle.
type State int

const (
	Idle State = iota
	Begun
	Streaming
	Committed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Begun:
		return "begun"
	case Streaming:
		return "streaming"
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition reports an attempted transition the state machine
// doesn't allow (e.g. WritePage before Begin, or any call after Commit).
type ErrInvalidTransition struct {
	From, Attempted State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("pagewriter: invalid transition from %s via %s", e.From, e.Attempted)
}

// Sink is the narrow capability a PageWriter needs from a destination: push
// a schema-aligned batch of rows and learn how many were written.
type Sink interface {
	WriteRows(ctx context.Context, columns []string, rows [][]any) (int64, error)
}

// PageWriter drives one target's write lifecycle across however many pages
// a single module run produces.
type PageWriter struct {
	sink    Sink
	columns []string

	mu        sync.Mutex
	state     State
	written   int64
	lastErr   error
}

func New(sink Sink, columns []string) *PageWriter {
	return &PageWriter{sink: sink, columns: columns, state: Idle}
}

func (w *PageWriter) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Begin transitions Idle → Begun. Calling Begin from any other state is an
// error.
func (w *PageWriter) Begin(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Idle {
		return &ErrInvalidTransition{From: w.state, Attempted: Begun}
	}
	w.state = Begun
	return nil
}

// WritePage writes one page of rows, transitioning Begun/Streaming →
// Streaming. On a write error the writer moves to Failed and every
// subsequent WritePage or Commit returns the same error (Begin returns an
// ErrInvalidTransition), matching the
// "sticky failure" discipline the original PageWriter.on_page_error hook
// implies — once a page fails, the destination's state for this run is no
// longer trustworthy enough to keep streaming into it.
func (w *PageWriter) WritePage(ctx context.Context, rows [][]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Failed {
		return w.lastErr
	}
	if w.state != Begun && w.state != Streaming {
		return &ErrInvalidTransition{From: w.state, Attempted: Streaming}
	}

	n, err := w.sink.WriteRows(ctx, w.columns, rows)
	w.written += n
	if err != nil {
		w.state = Failed
		w.lastErr = fmt.Errorf("pagewriter: write page: %w", err)
		return w.lastErr
	}
	w.state = Streaming
	return nil
}

// Commit transitions Streaming/Begun → Committed. Committing an empty run
// (Begun with zero pages written) is allowed, matching the "zero-row
// result still upserts/creates nothing but succeeds" edge case.
func (w *PageWriter) Commit(ctx context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Failed {
		return w.written, w.lastErr
	}
	if w.state != Begun && w.state != Streaming {
		return w.written, &ErrInvalidTransition{From: w.state, Attempted: Committed}
	}
	w.state = Committed
	return w.written, nil
}

// ColumnNames extracts the destination column list from a query engine
// result schema, matching the column order WritePage expects each row's
// values to be given in.
func ColumnNames(schema sql.Schema) []string {
	columns := make([]string, len(schema))
	for i, c := range schema {
		columns[i] = c.Name
	}
	return columns
}

// RowValues copies one query engine result row into the plain []any slice
// WritePage accepts, so the pipeline runner (C9) can append rows to a
// write-sized batch as they stream out of queryengine.Cursor.Next without
// holding onto the whole result set first.
func RowValues(r sql.Row) []any {
	vals := make([]any, len(r))
	copy(vals, r)
	return vals
}
