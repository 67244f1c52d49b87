package types

import "time"

// ProgressEvent is the payload delivered to a runner's progress callback.
// Callbacks are invoked synchronously on the goroutine driving the run and
// must not block.
type ProgressEvent struct {
	RunnerID        string        `json:"runner_id"`
	RunnerType      RunnerType    `json:"runner_type"`
	CurrentDuration time.Duration `json:"current_duration"`
	CurrentStatus   RunStatus     `json:"current_status"`
	CurrentProgress int           `json:"current_progress"`
	Total           int           `json:"total"`
	CurrentError    string        `json:"current_error,omitempty"`
	Details         string        `json:"details,omitempty"`
}

// ProgressFunc receives progress events during a run. A nil ProgressFunc
// disables reporting.
type ProgressFunc func(ProgressEvent)
