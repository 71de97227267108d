package run

import (
	"time"

	"github.com/ondemand-ai/browser-agent/internal/llm"
)

// Status is an agent run's lifecycle state. Status only moves forward: once
// a run leaves StatusRunning it never re-enters it.
type Status string

const (
	StatusRunning       Status = "running"
	StatusSucceeded     Status = "succeeded"
	StatusStepExhausted Status = "step_exhausted"
	StatusTimedOut      Status = "timed_out"
	StatusFailed        Status = "failed"
)

// Terminal reports whether the status is one of the four final states.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Outcome records how applying one action went. Terminal marks the
// run-completing finish action; the controller issues no further step after
// it.
type Outcome struct {
	OK       bool   `json:"ok"`
	Detail   string `json:"detail,omitempty"`
	Terminal bool   `json:"terminal,omitempty"`
}

// Step is one observe-decide-act cycle. Steps are append-only and never
// mutated after creation; indices are contiguous from 0.
type Step struct {
	Index       int        `json:"index"`
	URL         string     `json:"url,omitempty"`
	Observation string     `json:"observation,omitempty"`
	Thought     string     `json:"thought,omitempty"`
	Action      llm.Action `json:"action"`
	Outcome     Outcome    `json:"outcome"`
}

// Run is one end-to-end agent invocation.
type Run struct {
	ID         string    `json:"id"`
	Prompt     string    `json:"prompt"`
	MaxSteps   int       `json:"max_steps"`
	Model      string    `json:"model"`
	Engine     string    `json:"engine"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Result     string    `json:"result,omitempty"`
	Steps      []Step    `json:"steps"`
	VideoURL   string    `json:"video_url,omitempty"`
}

// Result is the response payload for a finished run.
type Result struct {
	RunID      string `json:"run_id"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
	Result     string `json:"result,omitempty"`
	Steps      []Step `json:"steps"`
	StepsTaken int    `json:"steps_taken"`
	VideoURL   string `json:"video_url,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Assemble packages a finished run into its response payload. Pure mapping,
// no side effects.
func Assemble(r *Run) *Result {
	steps := r.Steps
	if steps == nil {
		steps = []Step{}
	}
	var duration time.Duration
	if !r.FinishedAt.IsZero() {
		duration = r.FinishedAt.Sub(r.StartedAt)
	}
	return &Result{
		RunID:      r.ID,
		Status:     r.Status,
		Error:      r.Error,
		Result:     r.Result,
		Steps:      steps,
		StepsTaken: len(steps),
		VideoURL:   r.VideoURL,
		DurationMS: duration.Milliseconds(),
	}
}
