package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestStopWatch_StartStop(t *testing.T) {
	sw := NewStopWatch()
	sw.Start("first")
	time.Sleep(5 * time.Millisecond)
	sw.Stop()

	task := sw.LastTask()
	assert.Equal(t, "first", task.Name)
	assert.GreaterOrEqual(t, task.Duration, 5*time.Millisecond)
}

func TestStopWatch_StartStopsRunningTask(t *testing.T) {
	sw := NewStopWatch()
	sw.Start("first")
	sw.Start("second")
	sw.Stop()

	// Starting "second" must have completed "first" implicitly.
	require.Equal(t, "second", sw.LastTask().Name)
	assert.GreaterOrEqual(t, sw.Total(), sw.LastTask().Duration)
}

func TestStopWatch_StopWithoutStart(t *testing.T) {
	sw := NewStopWatch()
	sw.Stop()
	assert.Equal(t, TaskInfo{}, sw.LastTask())
}

func TestStopWatch_Total(t *testing.T) {
	sw := NewStopWatch()
	sw.Start("a")
	sw.Stop()
	sw.Start("b")
	sw.Stop()
	assert.Equal(t, sw.Total(), sw.LastTask().Duration+mustTask(t, sw, 0).Duration)
}

func mustTask(t *testing.T, sw *StopWatch, i int) TaskInfo {
	t.Helper()
	require.Greater(t, len(sw.tasks), i)
	return sw.tasks[i]
}

func TestPhaseLogger_NilLogger(t *testing.T) {
	// A nil logger must not panic; logging is never load-bearing.
	p := NewPhaseLogger(nil)
	p.DatasetPhase(TaskInfo{Name: "create dataset"}, "tx-1")
	p.WritePhase(TaskInfo{Name: "save"}, 1<<20, "RAW", "SEQUENTIAL", "tx-1")
	p.ReadPhase(TaskInfo{Name: "read"}, "RAW", "tx-1")
	p.Summary(10, 10, "RAW", "tx-1")
}

func TestPhaseLogger_Observed(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewPhaseLogger(zap.New(core))
	p.WritePhase(TaskInfo{Name: "save", Duration: 42 * time.Millisecond}, 2048, "BASE64", "PIPELINED", "tx-9")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(42), fields["duration_ms"])
	assert.Equal(t, "BASE64", fields["serializer"])
	assert.Equal(t, "PIPELINED", fields["strategy"])
	assert.Equal(t, "tx-9", fields["id"])
}
