// Package repo provides per-entity repositories over the KV backend,
// handling envelope marshaling and secondary-index bookkeeping. The
// sequential write strategy goes through these managed save calls.
package repo

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/kvbench/kvbench/internal/backend"
	"github.com/kvbench/kvbench/internal/errors"
	"github.com/kvbench/kvbench/internal/record"
)

// TransactionRepository persists Transaction entities.
type TransactionRepository struct {
	b backend.Backend
}

// NewTransactionRepository creates a repository over the given backend.
func NewTransactionRepository(b backend.Backend) *TransactionRepository {
	return &TransactionRepository{b: b}
}

// Save stores a transaction.
func (r *TransactionRepository) Save(ctx context.Context, t *record.Transaction) error {
	data, err := record.Marshal(t)
	if err != nil {
		return err
	}
	return r.b.Put(ctx, record.TransactionKeyspace, t.ID, data, nil)
}

// FindByID loads a transaction.
func (r *TransactionRepository) FindByID(ctx context.Context, id string) (*record.Transaction, error) {
	data, err := r.b.Get(ctx, record.TransactionKeyspace, id)
	if err != nil {
		return nil, err
	}
	var t record.Transaction
	if err := record.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ValueRepository persists Value entities and maintains their tid index.
type ValueRepository struct {
	b backend.Backend
}

// NewValueRepository creates a repository over the given backend.
func NewValueRepository(b backend.Backend) *ValueRepository {
	return &ValueRepository{b: b}
}

// Save stores one value with create-or-update semantics.
func (r *ValueRepository) Save(ctx context.Context, v *record.Value) error {
	data, err := record.Marshal(v)
	if err != nil {
		return err
	}
	if err := r.b.Put(ctx, record.ValueKeyspace, v.ID, data,
		backend.IndexMap{record.IndexFieldTID: v.TID}); err != nil {
		return errors.NewWriteError(errors.CodeWriteRejected,
			fmt.Sprintf("save failed for value %s", v.ID), err)
	}
	return nil
}

// SaveAll stores a batch one managed save at a time, in order. Per-record
// failures are collected and joined; siblings already issued are not
// rolled back.
func (r *ValueRepository) SaveAll(ctx context.Context, values []*record.Value) error {
	var errs []error
	for _, v := range values {
		if err := r.Save(ctx, v); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// FindByID loads one value.
func (r *ValueRepository) FindByID(ctx context.Context, id string) (*record.Value, error) {
	data, err := r.b.Get(ctx, record.ValueKeyspace, id)
	if err != nil {
		return nil, err
	}
	var v record.Value
	if err := record.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// FindAllByTID loads every value owned by a transaction via the tid index.
func (r *ValueRepository) FindAllByTID(ctx context.Context, tid string) ([]*record.Value, error) {
	ids, err := r.b.QueryIndexSet(ctx, record.ValueKeyspace, record.IndexFieldTID, tid)
	if err != nil {
		return nil, err
	}
	values := make([]*record.Value, 0, len(ids))
	for _, id := range ids {
		v, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// Count reports the number of stored values across all transactions.
func (r *ValueRepository) Count(ctx context.Context) (int64, error) {
	return r.b.Count(ctx, record.ValueKeyspace)
}

// KeyRepository persists the key-only entities and their tid index.
type KeyRepository struct {
	b backend.Backend
}

// NewKeyRepository creates a repository over the given backend.
func NewKeyRepository(b backend.Backend) *KeyRepository {
	return &KeyRepository{b: b}
}

// Save stores one key entity.
func (r *KeyRepository) Save(ctx context.Context, k *record.Key) error {
	data, err := record.Marshal(k)
	if err != nil {
		return err
	}
	if err := r.b.Put(ctx, record.KeyKeyspace, k.ID, data,
		backend.IndexMap{record.IndexFieldTID: k.TID}); err != nil {
		return errors.NewWriteError(errors.CodeWriteRejected,
			fmt.Sprintf("save failed for key %s", k.ID), err)
	}
	return nil
}

// Count reports the number of stored key entities.
func (r *KeyRepository) Count(ctx context.Context) (int64, error) {
	return r.b.Count(ctx, record.KeyKeyspace)
}
