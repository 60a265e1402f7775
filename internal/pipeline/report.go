package pipeline

import (
	"time"
)

// StepStatus is the lifecycle state of one step in a run.
type StepStatus string

const (
	StatusPending    StepStatus = "pending"
	StatusInProgress StepStatus = "in_progress"
	StatusCompleted  StepStatus = "completed"
	StatusFailed     StepStatus = "failed"
	StatusSkipped    StepStatus = "skipped"
)

// StepResult records how a step went.
type StepResult struct {
	Name      string        `json:"name"`
	Status    StepStatus    `json:"status"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Report summarizes one run.
type Report struct {
	Pipeline    string       `json:"pipeline"`
	RunID       string       `json:"run_id"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
	Steps       []StepResult `json:"steps"`
	// Rejected is set when the initial state failed validation.
	Rejected error `json:"-"`
}

func newReport[S any](name, runID string, steps []Step[S]) *Report {
	r := &Report{
		Pipeline:  name,
		RunID:     runID,
		StartedAt: time.Now().UTC(),
		Steps:     make([]StepResult, len(steps)),
	}
	for i, s := range steps {
		r.Steps[i] = StepResult{Name: s.Name, Status: StatusPending}
	}
	return r
}

// Status returns the status of the named step, or "" if unknown.
func (r *Report) Status(step string) StepStatus {
	for _, s := range r.Steps {
		if s.Name == step {
			return s.Status
		}
	}
	return ""
}

// Failed lists the names of failed steps in order.
func (r *Report) Failed() []string {
	var out []string
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			out = append(out, s.Name)
		}
	}
	return out
}

// OK reports whether the run was accepted and no step failed.
func (r *Report) OK() bool {
	return r.Rejected == nil && len(r.Failed()) == 0
}

// Progress is sent to a ProgressFunc on every step status change.
type Progress struct {
	Pipeline string     `json:"pipeline"`
	RunID    string     `json:"run_id"`
	Step     string     `json:"step"`
	Index    int        `json:"index"`
	Total    int        `json:"total"`
	Status   StepStatus `json:"status"`
	Error    string     `json:"error,omitempty"`
}

// ProgressFunc receives progress updates. It runs synchronously on the
// pipeline goroutine.
type ProgressFunc func(Progress)
