// Package service wires the dataset generator, write engine, verifier
// and repositories into the benchmark operations exposed to callers.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kvbench/kvbench/internal/backend"
	"github.com/kvbench/kvbench/internal/dataset"
	"github.com/kvbench/kvbench/internal/errors"
	"github.com/kvbench/kvbench/internal/observability"
	"github.com/kvbench/kvbench/internal/record"
	"github.com/kvbench/kvbench/internal/repo"
	"github.com/kvbench/kvbench/internal/serializer"
	"github.com/kvbench/kvbench/internal/verify"
	"github.com/kvbench/kvbench/internal/writer"
)

// DataService runs the benchmark operations. All methods are safe for
// concurrent use as long as the underlying backend is.
type DataService struct {
	backend      backend.Backend
	dataset      *dataset.Generator
	engine       *writer.Engine
	verifier     *verify.Verifier
	transactions *repo.TransactionRepository
	values       *repo.ValueRepository
	keys         *repo.KeyRepository
	phases       *observability.PhaseLogger
}

// NewDataService creates a service over the given backend. A nil logger
// silences phase logging.
func NewDataService(b backend.Backend, log *zap.Logger) *DataService {
	return &DataService{
		backend:      b,
		dataset:      dataset.NewGenerator(),
		engine:       writer.NewEngine(b),
		verifier:     verify.NewVerifier(b),
		transactions: repo.NewTransactionRepository(b),
		values:       repo.NewValueRepository(b),
		keys:         repo.NewKeyRepository(b),
		phases:       observability.NewPhaseLogger(log),
	}
}

// RunReport summarizes one completed end-to-end benchmark run.
type RunReport struct {
	TID         string
	Written     int
	Verified    []string
	TotalValues int64
}

// SaveData generates (or reuses) the dataset, encodes one value per
// dataset buffer and persists the batch with the chosen strategy. Both
// the dataset phase and the write phase are timed and logged. The
// encoded batch is returned so callers can verify against it.
func (d *DataService) SaveData(ctx context.Context, tid string, numItems int, strategy writer.Strategy, st serializer.Type) ([]*record.Value, error) {
	if numItems <= 0 {
		return nil, errors.NewValidationError(errors.CodeEmptyBatch,
			fmt.Sprintf("numItems must be positive, got %d", numItems))
	}
	s, err := serializer.ForType(st)
	if err != nil {
		return nil, err
	}

	watch := observability.NewStopWatch()
	watch.Start("create dataset")
	buffers := d.dataset.Ensure(numItems)
	watch.Stop()
	d.phases.DatasetPhase(watch.LastTask(), tid)

	values := make([]*record.Value, numItems)
	var totalBytes uint64
	for i := 0; i < numItems; i++ {
		v, err := record.NewValue(tid, i, buffers[i], s)
		if err != nil {
			return nil, err
		}
		values[i] = v
		totalBytes += uint64(v.PayloadSize())
	}

	watch.Start("save")
	written, err := d.engine.Write(ctx, values, strategy)
	watch.Stop()
	d.phases.WritePhase(watch.LastTask(), totalBytes, string(st), string(strategy), tid)

	return written, err
}

// SaveBigData runs the full benchmark: it creates a transaction, writes
// the batch with SaveData, reads everything back through the verifier and
// logs a summary. Verification failure is returned as-is; a run whose
// read-back does not match is broken, not slow.
func (d *DataService) SaveBigData(ctx context.Context, numItems int, strategy writer.Strategy, st serializer.Type) (*RunReport, error) {
	tx := record.NewTransaction()
	if err := d.transactions.Save(ctx, tx); err != nil {
		return nil, err
	}

	batch, err := d.SaveData(ctx, tx.ID, numItems, strategy, st)
	if err != nil {
		return nil, err
	}

	watch := observability.NewStopWatch()
	watch.Start("read")
	verified, err := d.verifier.Verify(ctx, tx.ID, batch)
	watch.Stop()
	if err != nil {
		return nil, err
	}
	d.phases.ReadPhase(watch.LastTask(), string(st), tx.ID)

	total, err := d.values.Count(ctx)
	if err != nil {
		return nil, err
	}
	d.phases.Summary(total, len(verified), string(st), tx.ID)

	return &RunReport{
		TID:         tx.ID,
		Written:     len(batch),
		Verified:    verified,
		TotalValues: total,
	}, nil
}

// GetDataForID loads every stored value owned by a transaction, resolved
// through the tid secondary index. An unknown transaction yields an empty
// slice, not an error.
func (d *DataService) GetDataForID(ctx context.Context, tid string) ([]*record.Value, error) {
	return d.values.FindAllByTID(ctx, tid)
}

// MassGetResult holds the two membership sets returned by MassGet, in
// query-issuance order.
type MassGetResult struct {
	ValueIDs []string
	KeyIDs   []string
}

// massGetValues and massGetKeys fix the batch sizes of the two-query
// pipelined read exercise.
const (
	massGetValues = 10
	massGetKeys   = 5
)

// MassGet exercises multi-query pipelining: it stores ten values and five
// key entities under a fresh transaction, then reads both membership sets
// back on a single pipelined connection and checks their cardinalities.
func (d *DataService) MassGet(ctx context.Context) (*MassGetResult, error) {
	tx := record.NewTransaction()
	if err := d.transactions.Save(ctx, tx); err != nil {
		return nil, err
	}

	s, err := serializer.ForType(serializer.Raw)
	if err != nil {
		return nil, err
	}
	buffers := d.dataset.Ensure(massGetValues)
	for i := 0; i < massGetValues; i++ {
		v, err := record.NewValue(tx.ID, i, buffers[i], s)
		if err != nil {
			return nil, err
		}
		if err := d.values.Save(ctx, v); err != nil {
			return nil, err
		}
	}
	for i := 0; i < massGetKeys; i++ {
		if err := d.keys.Save(ctx, record.NewKey(tx.ID)); err != nil {
			return nil, err
		}
	}

	conn := d.backend.Pipeline()
	conn.QueryIndexSet(record.ValueKeyspace, record.IndexFieldTID, tx.ID)
	conn.QueryIndexSet(record.KeyKeyspace, record.IndexFieldTID, tx.ID)
	results, err := conn.Flush(ctx)
	if err != nil {
		return nil, err
	}
	if len(results) != 2 {
		return nil, errors.NewVerifyError(errors.CodeCardinality,
			fmt.Sprintf("pipelined read returned %d result sets, expected 2", len(results)))
	}
	if got := len(results[0].Members); got != massGetValues {
		return nil, errors.NewVerifyError(errors.CodeCardinality,
			fmt.Sprintf("value set holds %d members, expected %d", got, massGetValues))
	}
	if got := len(results[1].Members); got != massGetKeys {
		return nil, errors.NewVerifyError(errors.CodeCardinality,
			fmt.Sprintf("key set holds %d members, expected %d", got, massGetKeys))
	}

	return &MassGetResult{
		ValueIDs: results[0].Members,
		KeyIDs:   results[1].Members,
	}, nil
}

// ClearDataset discards the cached dataset. Fails when no dataset was
// ever generated.
func (d *DataService) ClearDataset() error {
	return d.dataset.Clear()
}

// DatasetLen reports the number of cached dataset buffers.
func (d *DataService) DatasetLen() int {
	return d.dataset.Len()
}
