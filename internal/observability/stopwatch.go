// Package observability provides wall-clock phase timing and structured
// phase logging for benchmark runs.
package observability

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// TaskInfo holds the timing of one completed stopwatch task.
type TaskInfo struct {
	Name     string
	Duration time.Duration
}

// Millis returns the task duration in whole milliseconds.
func (t TaskInfo) Millis() int64 {
	return t.Duration.Milliseconds()
}

// StopWatch times named tasks sequentially. It mirrors the start/stop
// discipline of a physical stopwatch: only one task runs at a time.
type StopWatch struct {
	mu      sync.Mutex
	current string
	started time.Time
	running bool
	tasks   []TaskInfo
}

// NewStopWatch creates an idle stopwatch.
func NewStopWatch() *StopWatch {
	return &StopWatch{}
}

// Start begins timing a named task. Starting while a task is running
// stops the running task first.
func (s *StopWatch) Start(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.stopLocked()
	}
	s.current = name
	s.started = time.Now()
	s.running = true
}

// Stop ends the current task and records its duration.
func (s *StopWatch) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.stopLocked()
}

func (s *StopWatch) stopLocked() {
	s.tasks = append(s.tasks, TaskInfo{Name: s.current, Duration: time.Since(s.started)})
	s.running = false
}

// LastTask returns the most recently completed task.
// The zero TaskInfo is returned when nothing has completed yet.
func (s *StopWatch) LastTask() TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return TaskInfo{}
	}
	return s.tasks[len(s.tasks)-1]
}

// Total returns the summed duration of all completed tasks.
func (s *StopWatch) Total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, t := range s.tasks {
		total += t.Duration
	}
	return total
}

// PhaseLogger emits one structured log line per benchmark phase.
// Logging never affects correctness; construct with a nop logger to
// silence output entirely.
type PhaseLogger struct {
	log *zap.Logger
}

// NewPhaseLogger creates a phase logger. A nil logger disables output.
func NewPhaseLogger(log *zap.Logger) *PhaseLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &PhaseLogger{log: log}
}

// DatasetPhase logs the dataset creation phase.
func (p *PhaseLogger) DatasetPhase(task TaskInfo, tid string) {
	p.log.Info("data set creation time",
		zap.String("phase", task.Name),
		zap.Int64("duration_ms", task.Millis()),
		zap.String("id", tid),
	)
}

// WritePhase logs the write phase including the humanized payload total.
func (p *PhaseLogger) WritePhase(task TaskInfo, totalBytes uint64, serializer, strategy, tid string) {
	p.log.Info("save time",
		zap.String("phase", task.Name),
		zap.Int64("duration_ms", task.Millis()),
		zap.String("totalData", humanize.Bytes(totalBytes)),
		zap.String("serializer", serializer),
		zap.String("strategy", strategy),
		zap.String("id", tid),
	)
}

// ReadPhase logs the read/verify phase.
func (p *PhaseLogger) ReadPhase(task TaskInfo, serializer, tid string) {
	p.log.Info("read time",
		zap.String("phase", task.Name),
		zap.Int64("duration_ms", task.Millis()),
		zap.String("serializer", serializer),
		zap.String("id", tid),
	)
}

// Summary logs aggregate counts for a completed run.
func (p *PhaseLogger) Summary(totalValues int64, verified int, serializer, tid string) {
	p.log.Info("run summary",
		zap.Int64("totalValues", totalValues),
		zap.Int("verified", verified),
		zap.String("serializer", serializer),
		zap.String("id", tid),
	)
}
