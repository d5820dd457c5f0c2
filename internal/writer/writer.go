// Package writer implements the three bulk-write strategies: sequential
// repository saves, connection-parallel writes, and single-connection
// pipelined writes.
package writer

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kvbench/kvbench/internal/backend"
	"github.com/kvbench/kvbench/internal/errors"
	"github.com/kvbench/kvbench/internal/record"
	"github.com/kvbench/kvbench/internal/repo"
)

// Strategy selects how a batch is written to the backend. The engine
// never auto-selects; the caller always chooses.
type Strategy string

const (
	// Sequential issues one managed save call per record through the
	// repository abstraction, in batch order. Full create-or-update
	// semantics; the safest baseline.
	Sequential Strategy = "SEQUENTIAL"

	// ParallelAdapter fans the batch out across a worker pool, each
	// worker issuing an independent create-or-update write on its own
	// connection. No ordering guarantee across records.
	ParallelAdapter Strategy = "PARALLEL_ADAPTER"

	// Pipelined reuses one backend connection for the whole batch,
	// issuing writes back-to-back without awaiting replies. Create-only:
	// it bypasses the read-modify-write path, so updates to existing
	// keys are not applied. Throughput improves with batch size as the
	// per-round-trip overhead amortizes.
	Pipelined Strategy = "PIPELINED"
)

// ParseStrategy parses a strategy name, case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToUpper(s)) {
	case Sequential:
		return Sequential, nil
	case ParallelAdapter:
		return ParallelAdapter, nil
	case Pipelined:
		return Pipelined, nil
	default:
		return "", errors.NewValidationError(errors.CodeUnknownStrategy,
			fmt.Sprintf("unknown write strategy %q", s))
	}
}

// Engine executes write strategies against a backend.
type Engine struct {
	backend backend.Backend
	values  *repo.ValueRepository
	workers int
}

// NewEngine creates a write engine. The parallel strategy's worker pool
// is bounded by the CPU count.
func NewEngine(b backend.Backend) *Engine {
	return &Engine{
		backend: b,
		values:  repo.NewValueRepository(b),
		workers: runtime.GOMAXPROCS(0),
	}
}

// Write persists the batch using the chosen strategy and returns the
// records that were written. For Sequential and ParallelAdapter a
// per-record failure does not abort siblings: the returned error joins
// the individual failures and the successfully written records are still
// returned. For Pipelined any failure aborts the whole batch with one
// aggregate error.
func (e *Engine) Write(ctx context.Context, values []*record.Value, strategy Strategy) ([]*record.Value, error) {
	if len(values) == 0 {
		return nil, errors.NewValidationError(errors.CodeEmptyBatch, "empty write batch")
	}

	switch strategy {
	case Sequential:
		return e.writeSequential(ctx, values)
	case ParallelAdapter:
		return e.writeParallel(ctx, values)
	case Pipelined:
		return e.writePipelined(ctx, values)
	default:
		return nil, errors.NewValidationError(errors.CodeUnknownStrategy,
			fmt.Sprintf("unknown write strategy %q", strategy))
	}
}

// writeSequential preserves batch order: one managed save per record.
func (e *Engine) writeSequential(ctx context.Context, values []*record.Value) ([]*record.Value, error) {
	if err := e.values.SaveAll(ctx, values); err != nil {
		return values, err
	}
	return values, nil
}

// writeParallel distributes the batch across the worker pool. Workers
// race, so no write-order guarantee; each failure is recorded against its
// record and all workers run to completion.
func (e *Engine) writeParallel(ctx context.Context, values []*record.Value) ([]*record.Value, error) {
	recordErrs := make([]error, len(values))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, v := range values {
		g.Go(func() error {
			data, err := record.Marshal(v)
			if err == nil {
				err = e.backend.Put(gctx, record.ValueKeyspace, v.ID, data,
					backend.IndexMap{record.IndexFieldTID: v.TID})
			}
			if err != nil {
				mu.Lock()
				recordErrs[i] = errors.NewWriteError(errors.CodeWriteRejected,
					fmt.Sprintf("parallel write failed for value %s", v.ID), err)
				mu.Unlock()
			}
			// Always nil: a single record failure must not cancel siblings.
			return nil
		})
	}
	// The group error is always nil; Wait is the join barrier.
	_ = g.Wait()

	return values, stderrors.Join(recordErrs...)
}

// writePipelined queues all writes on a single connection and flushes
// once. The connection must not be shared across goroutines, so issuance
// stays strictly sequential.
func (e *Engine) writePipelined(ctx context.Context, values []*record.Value) ([]*record.Value, error) {
	conn := e.backend.Pipeline()
	for _, v := range values {
		data, err := record.Marshal(v)
		if err != nil {
			return nil, errors.NewWriteError(errors.CodePipelineAborted,
				fmt.Sprintf("pipelined encode failed for value %s", v.ID), err)
		}
		conn.PutCreateOnly(record.ValueKeyspace, v.ID, data,
			backend.IndexMap{record.IndexFieldTID: v.TID})
	}

	if _, err := conn.Flush(ctx); err != nil {
		return nil, errors.NewWriteError(errors.CodePipelineAborted,
			fmt.Sprintf("pipelined batch of %d records failed", len(values)), err)
	}
	return values, nil
}
