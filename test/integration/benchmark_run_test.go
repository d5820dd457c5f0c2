// Package integration provides end-to-end tests of the benchmark flow
// against the durable sqlite backend.
package integration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvbench/kvbench/internal/backend"
	"github.com/kvbench/kvbench/internal/serializer"
	"github.com/kvbench/kvbench/internal/service"
	"github.com/kvbench/kvbench/internal/writer"
)

func openSQLite(t *testing.T) backend.Backend {
	t.Helper()
	b, err := backend.NewSQLite(filepath.Join(t.TempDir(), "kvbench.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

// TestBenchmarkFlow runs the full save-and-verify flow on sqlite for
// every strategy/serializer combination.
func TestBenchmarkFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	for _, strategy := range []writer.Strategy{writer.Sequential, writer.ParallelAdapter, writer.Pipelined} {
		for _, st := range []serializer.Type{serializer.Raw, serializer.Structured, serializer.Base64} {
			t.Run(string(strategy)+"/"+string(st), func(t *testing.T) {
				svc := service.NewDataService(openSQLite(t), nil)

				report, err := svc.SaveBigData(context.Background(), 4, strategy, st)
				require.NoError(t, err)
				assert.Equal(t, 4, report.Written)
				assert.Len(t, report.Verified, 4)

				// The transaction lookup returns exactly the verified records.
				values, err := svc.GetDataForID(context.Background(), report.TID)
				require.NoError(t, err)
				gotIDs := make([]string, len(values))
				for i, v := range values {
					gotIDs[i] = v.ID
				}
				assert.ElementsMatch(t, report.Verified, gotIDs)
			})
		}
	}
}

// TestBenchmarkFlow_SurvivesReopen writes on one connection and reads
// back on a fresh one, confirming the records are durable.
func TestBenchmarkFlow_SurvivesReopen(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	path := filepath.Join(t.TempDir(), "kvbench.db")
	ctx := context.Background()

	b1, err := backend.NewSQLite(path)
	require.NoError(t, err)
	report, err := service.NewDataService(b1, nil).SaveBigData(ctx, 3, writer.Pipelined, serializer.Raw)
	require.NoError(t, err)
	require.NoError(t, b1.Close())

	b2, err := backend.NewSQLite(path)
	require.NoError(t, err)
	defer b2.Close()

	svc := service.NewDataService(b2, nil)
	values, err := svc.GetDataForID(ctx, report.TID)
	require.NoError(t, err)
	require.Len(t, values, len(report.Verified))
	gotIDs := make([]string, len(values))
	for i, v := range values {
		gotIDs[i] = v.ID
	}
	assert.ElementsMatch(t, report.Verified, gotIDs)
}

// TestMassGetOnSQLite runs the multi-query pipelined read on the durable
// backend.
func TestMassGetOnSQLite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	svc := service.NewDataService(openSQLite(t), nil)
	result, err := svc.MassGet(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.ValueIDs, 10)
	assert.Len(t, result.KeyIDs, 5)
}
