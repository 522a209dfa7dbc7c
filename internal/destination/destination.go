// Package destination implements component C8's backend-agnostic contract
// and the Register-based factory that lets the pipeline runner (C9) obtain
// a concrete writer without importing any specific backend package. This is
// the teacher's internal/storage Register/Repository/DDLBootstrapper
// pattern, adapted: DDL bootstrapping is folded into the Repository
// interface itself (EnsureTable) since each destination now owns a typed
// schema.Schema per source rather than a single pipeline-wide contract, and
// the teacher's CopyFn/LoadBatches batching utility is kept nearly as-is as
// BatchWriter below, since batching-a-channel-into-fixed-size-flushes has
// nothing backend-specific about it.
package destination

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"apitap/internal/config"
	"apitap/internal/schema"
)

// Repository is the capability every destination backend must provide.
type Repository interface {
	// EnsureTable creates the destination table if it doesn't exist; the
	// pipeline runner only calls it when the target's AutoCreateTable is
	// set. Implementations that find an existing table leave it alone.
	EnsureTable(ctx context.Context, sch schema.Schema) error

	// WriteRows writes one batch of rows (column-aligned to `columns`) per
	// the configured config.WriteMode, returning the number of rows the
	// backend reports as written.
	WriteRows(ctx context.Context, columns []string, rows [][]any) (int64, error)

	Close()
}

// Constructor builds a Repository from a resolved Target config.
type Constructor func(ctx context.Context, target config.Target) (Repository, error)

var (
	mu    sync.RWMutex
	ctors = map[string]Constructor{}
)

// Register registers a backend constructor under a Target.Kind value.
// Called from each backend package's init().
func Register(kind string, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	ctors[kind] = ctor
}

// New looks up the registered constructor for target.Kind and invokes it.
func New(ctx context.Context, target config.Target) (Repository, error) {
	mu.RLock()
	ctor, ok := ctors[target.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("destination: no backend registered for kind %q", target.Kind)
	}
	return ctor(ctx, target)
}

// RowFn abstracts a backend's bulk-write capability, matching the
// teacher's CopyFn shape: insert the provided rows (aligned to columns
// order) and report how many were written.
type RowFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// BatchWriter drains typed rows from a channel, groups them into batches of
// size batchSize, and invokes writeFn per non-empty batch, logging progress
// exactly like the teacher's storage.LoadBatches.
func BatchWriter(
	ctx context.Context,
	columns []string,
	in <-chan []any,
	batchSize int,
	writeFn RowFn,
) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("destination: batchSize must be > 0")
	}

	var (
		total       int64
		batches     int64
		batch       = make([][]any, 0, batchSize)
		start       = time.Now()
		lastFlushTS = start
		lastTotal   int64
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := writeFn(ctx, columns, batch)
		total += n
		batch = batch[:0]
		if err != nil {
			log.Printf("destination: write failed after=%d total=%d err=%v", n, total, err)
			return err
		}
		batches++
		now := time.Now()
		sinceLast := now.Sub(lastFlushTS)
		rps := float64(0)
		if sinceLast > 0 {
			rps = float64(total-lastTotal) / sinceLast.Seconds()
		}
		log.Printf("batch #%d: rps=%.0f written=%d total_written=%d elapsed=%s",
			batches, rps, n, total, now.Sub(start).Truncate(time.Millisecond))
		lastFlushTS = now
		lastTotal = total
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case r, ok := <-in:
			if !ok {
				if err := flush(); err != nil {
					return total, err
				}
				log.Printf("destination: input closed, total_written=%d", total)
				return total, nil
			}
			batch = append(batch, r)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return total, err
				}
			}
		}
	}
}
