// Package row defines the unordered record type that flows between every
// pipeline stage, and the lazy, cancel-aware stream abstraction used to move
// rows between a source and its consumers without materializing the whole
// page set in memory.
package row

import "context"

// Row is a single decoded record. Values come straight out of encoding/json,
// so nested objects surface as map[string]any and nested arrays as []any.
type Row map[string]any

// Stream is a one-shot, ordered sequence of Rows terminated by an error (nil
// on success). Implementations must be safe to Close without having been
// fully drained, and Next must return io.EOF-equivalent via (Row{}, false,
// nil) rather than panicking once exhausted.
type Stream interface {
	// Next blocks until a row is available, the stream ends, ctx is
	// canceled, or an error occurs. ok is false only at clean end of
	// stream; a non-nil err always implies ok == false.
	Next(ctx context.Context) (r Row, ok bool, err error)

	// Close releases any resources (open response bodies, goroutines)
	// held by the stream. Close is idempotent.
	Close() error
}

// Collect drains a Stream into a slice. Intended for tests and for the
// bounded sample prefix used by schema inference.
func Collect(ctx context.Context, s Stream, limit int) ([]Row, error) {
	var out []Row
	for limit <= 0 || len(out) < limit {
		r, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

// SliceStream adapts a pre-materialized slice of Rows into a Stream. Used by
// tests and by the stream factory (C4) to replay its fully buffered result set.
type SliceStream struct {
	rows []Row
	pos  int
}

func NewSliceStream(rows []Row) *SliceStream { return &SliceStream{rows: rows} }

func (s *SliceStream) Next(ctx context.Context) (Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.pos >= len(s.rows) {
		return nil, false, nil
	}
	r := s.rows[s.pos]
	s.pos++
	return r, true, nil
}

func (s *SliceStream) Close() error { return nil }
