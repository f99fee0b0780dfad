package model

import (
	"fmt"
	"strings"
	"time"
)

// RunStatus represents the lifecycle state of a launched run.
//
//	[Launched] → Running → Succeeded | Failed | Cancelled
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"

	// StatusCancelled marks runs interrupted by the user (SIGINT/SIGTERM)
	// or stopped through "svbrdf-run stop".
	StatusCancelled RunStatus = "cancelled"
)

// String returns the string representation of RunStatus.
func (s RunStatus) String() string {
	return string(s)
}

// IsValid checks whether the RunStatus value is one of the predefined states.
func (s RunStatus) IsValid() bool {
	switch s {
	case StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsFinal reports whether no further transition is possible.
func (s RunStatus) IsFinal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// ParseRunStatus converts a string to a RunStatus (case-insensitive).
func ParseRunStatus(s string) (RunStatus, error) {
	status := RunStatus(strings.ToLower(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid run status: %q (valid: running, succeeded, failed, cancelled)", s)
	}
	return status, nil
}

// Summary aggregates the progress lines printed by the trainer during a run.
// Loss fields are pointers so "not observed" is distinguishable from 0.
type Summary struct {
	FirstEpoch int `json:"firstEpoch"`
	LastEpoch  int `json:"lastEpoch"`

	// TargetEpoch is the exclusive end of the epoch range announced by
	// the trainer ("Training from epoch a to b").
	TargetEpoch int `json:"targetEpoch,omitempty"`

	Batches           int      `json:"batches"`
	LastLoss          *float64 `json:"lastLoss,omitempty"`
	BestLoss          *float64 `json:"bestLoss,omitempty"`
	LastValLoss       *float64 `json:"lastValLoss,omitempty"`
	BestValLoss       *float64 `json:"bestValLoss,omitempty"`
	BestValEpoch      int      `json:"bestValEpoch,omitempty"`
	TrainingSamples   int      `json:"trainingSamples,omitempty"`
	ValidationSamples int      `json:"validationSamples,omitempty"`
	Renderer          string   `json:"renderer,omitempty"`
	CheckpointWrites  int      `json:"checkpointWrites,omitempty"`
}

// RunRecord is one launched trainer invocation as stored in the history.
type RunRecord struct {
	ID          string    `json:"id"`
	Profile     string    `json:"profile"`
	Mode        RunMode   `json:"mode"`
	Backend     Backend   `json:"backend"`
	Args        []string  `json:"args"`
	ContainerID string    `json:"containerId,omitempty"`
	GitCommit   string    `json:"gitCommit,omitempty"`
	GitDirty    bool      `json:"gitDirty,omitempty"`
	Status      RunStatus `json:"status"`
	ExitCode    int       `json:"exitCode"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`
	Summary     *Summary  `json:"summary,omitempty"`
}

// Duration returns how long the run took, or how long it has been running
// relative to now when it has not finished.
func (r *RunRecord) Duration(now time.Time) time.Duration {
	if r.FinishedAt.IsZero() {
		return now.Sub(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ShortID returns the first 8 characters of the run ID for table output.
func (r *RunRecord) ShortID() string {
	if len(r.ID) <= 8 {
		return r.ID
	}
	return r.ID[:8]
}
