// Package jobs tracks download jobs and exposes them over HTTP: submit an
// input, watch its ordered progress events, cancel it, and read the final
// artifacts. One pipeline run backs each job; jobs share no state.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"hlsgrab/internal/pipeline"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Job is the API-visible snapshot of one download job.
type Job struct {
	ID        uuid.UUID           `json:"id"`
	Input     string              `json:"input"`
	Status    Status              `json:"status"`
	Phase     pipeline.Phase      `json:"phase,omitempty"`
	Percent   int                 `json:"percent"`
	Message   string              `json:"message,omitempty"`
	ErrorKind string              `json:"error_kind,omitempty"`
	Error     string              `json:"error,omitempty"`
	Artifacts []pipeline.Artifact `json:"artifacts,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	// FinishedAt is set once Status is terminal.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobState is the registry's internal record for a job: the snapshot plus
// the cancellation hook and the recent ordered progress events.
type JobState struct {
	Job    Job
	Cancel context.CancelFunc
	Events []pipeline.Event
}
