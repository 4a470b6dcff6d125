package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/indexit/core"
)

// Sink receives job progress updates from running pipelines.
// Implementations must not block.
type Sink interface {
	JobProgress(jobID string, state core.JobState, percent int, message string)
}

// NoopSink discards all progress updates.
type NoopSink struct{}

func (NoopSink) JobProgress(string, core.JobState, int, string) {}

// LogSink forwards progress updates to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) JobProgress(jobID string, state core.JobState, percent int, message string) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("job progress",
		"jobId", jobID, "state", state.String(), "percent", percent, "message", message)
}

// Tracker reports throughput of a long ingestion run to a writer, typically
// os.Stderr during CLI runs. Updates below the report interval are absorbed
// silently.
type Tracker struct {
	mu           sync.Mutex
	writer       io.Writer
	unit         string
	total        int
	current      int
	interval     int
	lastReported int
	startedAt    time.Time
	started      bool
}

// NewTracker creates a tracker for total units of work, reporting every
// interval units. unit names what is being counted ("chunks", "rows").
func NewTracker(writer io.Writer, unit string, total, interval int) *Tracker {
	if interval < 1 {
		interval = 1
	}
	return &Tracker{
		writer:   writer,
		unit:     unit,
		total:    total,
		interval: interval,
	}
}

// Start resets the tracker and begins timing.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedAt = time.Now()
	t.started = true
	t.current = 0
	t.lastReported = 0
}

// Update sets the current count, reporting when an interval is crossed.
func (t *Tracker) Update(current int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return
	}
	if current > t.total {
		current = t.total
	}
	t.current = current
	if t.current-t.lastReported >= t.interval {
		t.report()
		t.lastReported = t.current
	}
}

// Finish forces the count to total and prints the final line.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return
	}
	t.current = t.total
	t.report()
	fmt.Fprintln(t.writer)
}

// Elapsed returns the time since Start.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return 0
	}
	return time.Since(t.startedAt)
}

// report prints the current line. Caller holds the lock.
func (t *Tracker) report() {
	elapsed := time.Since(t.startedAt)
	rate := float64(t.current) / elapsed.Seconds()

	percent := 0.0
	if t.total > 0 {
		percent = float64(t.current) / float64(t.total) * 100.0
	}
	fmt.Fprintf(t.writer, "\r%d/%d %s (%.1f%%) - %.1f %s/s",
		t.current, t.total, t.unit, percent, rate, t.unit)
}
