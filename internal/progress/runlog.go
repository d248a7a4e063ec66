package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PhaseCounters tallies per-phase outcomes for the status endpoint.
type PhaseCounters struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// RunLog is the observable record of one migration run: an append-only
// line log plus per-phase counters. Safe for concurrent use; the
// orchestrator writes while the status server reads.
type RunLog struct {
	ID        string
	StartedAt time.Time

	mu         sync.Mutex
	status     string // "running", "completed", "failed"
	finishedAt *time.Time
	errMsg     string
	lines      []string
	phase      string
	counters   map[string]*PhaseCounters
}

// NewRunLog creates a running log with a fresh run id.
func NewRunLog() *RunLog {
	return &RunLog{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		status:    "running",
		counters:  make(map[string]*PhaseCounters),
	}
}

// AppendLog adds one line to the log.
func (r *RunLog) AppendLog(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

// LogsSince returns log lines starting from the given index.
func (r *RunLog) LogsSince(offset int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset >= len(r.lines) {
		return nil
	}
	lines := make([]string, len(r.lines)-offset)
	copy(lines, r.lines[offset:])
	return lines
}

// SetPhase records the phase currently executing.
func (r *RunLog) SetPhase(phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = phase
}

func (r *RunLog) counter(phase string) *PhaseCounters {
	c, ok := r.counters[phase]
	if !ok {
		c = &PhaseCounters{}
		r.counters[phase] = c
	}
	return c
}

// CountSucceeded increments a phase's success tally.
func (r *RunLog) CountSucceeded(phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter(phase).Succeeded++
}

// CountFailed increments a phase's failure tally.
func (r *RunLog) CountFailed(phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter(phase).Failed++
}

// CountSkipped increments a phase's skip tally.
func (r *RunLog) CountSkipped(phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter(phase).Skipped++
}

// Complete marks the run finished.
func (r *RunLog) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = "completed"
	now := time.Now()
	r.finishedAt = &now
}

// Fail marks the run failed with an error message.
func (r *RunLog) Fail(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = "failed"
	r.errMsg = err
	now := time.Now()
	r.finishedAt = &now
}

// Done reports whether the run has finished either way.
func (r *RunLog) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status != "running"
}

// Snapshot is the JSON shape served by the status endpoint.
type Snapshot struct {
	ID           string                   `json:"id"`
	Status       string                   `json:"status"`
	StartedAt    time.Time                `json:"started_at"`
	FinishedAt   *time.Time               `json:"finished_at,omitempty"`
	Error        string                   `json:"error,omitempty"`
	CurrentPhase string                   `json:"current_phase"`
	Phases       map[string]PhaseCounters `json:"phases"`
	LogLines     int                      `json:"log_lines"`
}

// Snapshot returns a point-in-time copy of the run's progress.
func (r *RunLog) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	phases := make(map[string]PhaseCounters, len(r.counters))
	for name, c := range r.counters {
		phases[name] = *c
	}
	return Snapshot{
		ID:           r.ID,
		Status:       r.status,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.finishedAt,
		Error:        r.errMsg,
		CurrentPhase: r.phase,
		Phases:       phases,
		LogLines:     len(r.lines),
	}
}
