// Package streamfactory implements component C4: a factory that can be
// "opened" multiple times by independent consumers (the schema inferencer
// reads a bounded sample prefix; the query engine scans the whole stream
// during execution), while the underlying HTTP/pagination fetch happens at
// most once. It mirrors the original implementation's JsonStreamFactory
// (a cloneable closure DataFusion re-invokes per scan) adapted to Go's
// channel-and-mutex idiom: a single background goroutine drains the
// pagination driver into a buffered channel; the first N rows are also
// retained as the sample prefix that Sample returns, and a guarded
// single-receiver lock enforces that only
// one logical consumer drains the live tail at a time.
package streamfactory

import (
	"context"
	"sync"

	"apitap/internal/row"
)

// Factory produces fresh row.Stream handles over one underlying row source.
// Open may be called multiple times; the first call to Sample or Open
// starts the background fetch. A stream opened before the source has been
// drained reads the live channel, which carries every row from the first
// one on (the retained sample prefix is not replayed ahead of it); a stream
// opened after an earlier one drained the source to its end replays the
// full buffered result set.
type Factory struct {
	sampleSize int

	once    sync.Once
	fetchFn func(ctx context.Context) (row.Stream, error)

	mu       sync.Mutex
	prefix   []row.Row
	rest     chan row.Row
	fetchErr error
	started  bool
	done     bool

	// recv serializes access to the live tail so that only one logical
	// consumer drains `rest` at a time, per the spec's single-consumer
	// locking discipline; callers opened after the tail is exhausted fall
	// back to the fully materialized buffer instead of contending on it.
	recv    sync.Mutex
	buf     []row.Row
	bufDone bool
}

// NewFactory builds a Factory around a row source. sampleSize bounds how
// many rows are retained as the prefix that Sample returns (e.g. to the
// schema inferencer); 0 means "retain everything". Independently of
// sampleSize, the stream that drains the source to its end buffers every
// row for later Opens.
func NewFactory(sampleSize int, fetchFn func(ctx context.Context) (row.Stream, error)) *Factory {
	return &Factory{sampleSize: sampleSize, fetchFn: fetchFn, rest: make(chan row.Row, 256)}
}

func (f *Factory) ensureStarted(ctx context.Context) {
	f.once.Do(func() {
		go f.pump(ctx)
	})
}

func (f *Factory) pump(ctx context.Context) {
	src, err := f.fetchFn(ctx)
	if err != nil {
		f.mu.Lock()
		f.fetchErr = err
		f.done = true
		f.mu.Unlock()
		close(f.rest)
		return
	}
	defer src.Close()

	for {
		r, ok, err := src.Next(ctx)
		if err != nil {
			f.mu.Lock()
			f.fetchErr = err
			f.mu.Unlock()
			break
		}
		if !ok {
			break
		}
		f.mu.Lock()
		if f.sampleSize <= 0 || len(f.prefix) < f.sampleSize {
			f.prefix = append(f.prefix, r)
		}
		f.mu.Unlock()
		select {
		case f.rest <- r:
		case <-ctx.Done():
			f.mu.Lock()
			f.fetchErr = ctx.Err()
			f.mu.Unlock()
			close(f.rest)
			return
		}
	}
	f.mu.Lock()
	f.done = true
	f.mu.Unlock()
	close(f.rest)
}

// Sample blocks until either sampleSize rows have been observed or the
// source is exhausted (whichever comes first), then returns the retained
// prefix. It does not consume from the live tail channel, so it never
// competes with a concurrently open consumer for `rest`.
func (f *Factory) Sample(ctx context.Context) ([]row.Row, error) {
	f.ensureStarted(ctx)
	for {
		f.mu.Lock()
		n := len(f.prefix)
		done := f.done
		err := f.fetchErr
		f.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if done || (f.sampleSize > 0 && n >= f.sampleSize) {
			f.mu.Lock()
			out := append([]row.Row{}, f.prefix...)
			f.mu.Unlock()
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

// Open returns a fresh row.Stream over the whole source: the retained
// prefix followed by whatever remains live, or the fully materialized
// buffer once the source has already been drained by an earlier Open.
func (f *Factory) Open(ctx context.Context) (row.Stream, error) {
	f.ensureStarted(ctx)

	f.mu.Lock()
	bufDone := f.bufDone
	f.mu.Unlock()
	if bufDone {
		return row.NewSliceStream(f.buf), nil
	}

	return &openStream{f: f, ctx: ctx}, nil
}

// openStream is the live-tail consumer returned by Open while the source may
// still be fetching. `rest` already carries every row from the start of the
// fetch (pump pushes to it unconditionally), so the live consumer drains it
// directly rather than replaying the retained prefix first — replaying both
// would double-deliver whatever rows Sample already pulled into the prefix.
// It materializes the full buffer on EOF so later Open calls don't need to
// refetch.
type openStream struct {
	f       *Factory
	ctx     context.Context
	started bool
	locked  bool
	seen    []row.Row
}

func (s *openStream) Next(ctx context.Context) (row.Row, bool, error) {
	if !s.started {
		s.started = true
		s.f.recv.Lock()
		s.locked = true
	}

	select {
	case r, ok := <-s.f.rest:
		if !ok {
			s.f.mu.Lock()
			err := s.f.fetchErr
			s.f.mu.Unlock()
			if err != nil {
				return nil, false, err
			}
			s.materialize()
			return nil, false, nil
		}
		s.seen = append(s.seen, r)
		return r, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (s *openStream) materialize() {
	s.f.mu.Lock()
	if !s.f.bufDone {
		s.f.buf = s.seen
		s.f.bufDone = true
	}
	s.f.mu.Unlock()
}

func (s *openStream) Close() error {
	if s.locked {
		s.f.recv.Unlock()
		s.locked = false
	}
	return nil
}
