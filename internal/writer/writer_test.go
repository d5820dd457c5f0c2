package writer

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvbench/kvbench/internal/backend"
	"github.com/kvbench/kvbench/internal/errors"
	"github.com/kvbench/kvbench/internal/record"
	"github.com/kvbench/kvbench/internal/repo"
	"github.com/kvbench/kvbench/internal/serializer"
)

func makeBatch(t *testing.T, tid string, n int) []*record.Value {
	t.Helper()
	s, err := serializer.ForType(serializer.Raw)
	require.NoError(t, err)

	values := make([]*record.Value, n)
	for i := range values {
		v, err := record.NewValue(tid, i, []byte(fmt.Sprintf("payload-%d", i)), s)
		require.NoError(t, err)
		values[i] = v
	}
	return values
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"SEQUENTIAL", Sequential, false},
		{"sequential", Sequential, false},
		{"Parallel_Adapter", ParallelAdapter, false},
		{"PIPELINED", Pipelined, false},
		{"TRANSACTIONAL", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			assert.Equal(t, errors.ErrCategoryValidation, errors.GetCategory(err))
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestWrite_AllStrategiesPersistBatch(t *testing.T) {
	for _, strategy := range []Strategy{Sequential, ParallelAdapter, Pipelined} {
		t.Run(string(strategy), func(t *testing.T) {
			b := backend.NewMemory()
			e := NewEngine(b)
			values := makeBatch(t, "tx-1", 12)

			written, err := e.Write(context.Background(), values, strategy)
			require.NoError(t, err)
			assert.Len(t, written, 12)

			r := repo.NewValueRepository(b)
			found, err := r.FindAllByTID(context.Background(), "tx-1")
			require.NoError(t, err)
			assert.Len(t, found, 12)
		})
	}
}

func TestWrite_EmptyBatch(t *testing.T) {
	e := NewEngine(backend.NewMemory())
	for _, strategy := range []Strategy{Sequential, ParallelAdapter, Pipelined} {
		_, err := e.Write(context.Background(), nil, strategy)
		require.Error(t, err)
		assert.Equal(t, errors.CodeEmptyBatch, errors.GetCode(err))
	}
}

func TestWrite_UnknownStrategy(t *testing.T) {
	e := NewEngine(backend.NewMemory())
	_, err := e.Write(context.Background(), makeBatch(t, "tx-1", 1), Strategy("BULK"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeUnknownStrategy, errors.GetCode(err))
}

func TestWriteParallel_CollectsPerRecordErrors(t *testing.T) {
	b := backend.NewMemory()
	values := makeBatch(t, "tx-1", 6)

	failing := map[string]bool{values[1].ID: true, values[4].ID: true}
	b.FailPut = func(_, id string) error {
		if failing[id] {
			return fmt.Errorf("injected failure for %s", id)
		}
		return nil
	}

	e := NewEngine(b)
	written, err := e.Write(context.Background(), values, ParallelAdapter)
	require.Error(t, err)
	assert.Len(t, written, 6)
	assert.Contains(t, err.Error(), values[1].ID)
	assert.Contains(t, err.Error(), values[4].ID)

	// Siblings of the failed records were still written.
	r := repo.NewValueRepository(b)
	for _, i := range []int{0, 2, 3, 5} {
		_, err := r.FindByID(context.Background(), values[i].ID)
		assert.NoError(t, err, "record %d", i)
	}
}

func TestWritePipelined_FailureAbortsBatch(t *testing.T) {
	b := backend.NewMemory()
	values := makeBatch(t, "tx-1", 4)

	b.FailPut = func(_, id string) error {
		if id == values[2].ID {
			return fmt.Errorf("injected failure")
		}
		return nil
	}

	e := NewEngine(b)
	written, err := e.Write(context.Background(), values, Pipelined)
	require.Error(t, err)
	assert.Nil(t, written)
	assert.Equal(t, errors.CodePipelineAborted, errors.GetCode(err))

	// Nothing queued after the failure point landed.
	b.FailPut = nil
	r := repo.NewValueRepository(b)
	_, err = r.FindByID(context.Background(), values[3].ID)
	assert.Error(t, err)
}

func TestWritePipelined_IsCreateOnly(t *testing.T) {
	b := backend.NewMemory()
	e := NewEngine(b)
	ctx := context.Background()

	values := makeBatch(t, "tx-1", 1)
	_, err := e.Write(ctx, values, Pipelined)
	require.NoError(t, err)

	// Re-encode the same record with a different payload and write it
	// again through the pipeline: the stored bytes must not change.
	s, err := serializer.ForType(serializer.Raw)
	require.NoError(t, err)
	updated, err := record.NewValue("tx-1", 0, []byte("changed payload"), s)
	require.NoError(t, err)
	updated.ID = values[0].ID

	_, err = e.Write(ctx, []*record.Value{updated}, Pipelined)
	require.NoError(t, err)

	r := repo.NewValueRepository(b)
	got, err := r.FindByID(ctx, values[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload-0"), got.Raw, "pipelined writes must not update existing records")

	// The sequential path does apply the update.
	_, err = e.Write(ctx, []*record.Value{updated}, Sequential)
	require.NoError(t, err)
	got, err = r.FindByID(ctx, values[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("changed payload"), got.Raw)
}
