package webhook

import (
	"time"

	"github.com/dunamismax/shrinkpic/internal/domain"
)

const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

type JobEvent struct {
	Event      string             `json:"event"`
	JobID      string             `json:"job_id"`
	Status     string             `json:"status"`
	Images     int                `json:"images"`
	Results    []domain.JobResult `json:"results,omitempty"`
	BytesSaved int64              `json:"bytes_saved"`
	Error      string             `json:"error,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// NewJobEvent describes a job that reached a terminal state.
func NewJobEvent(job domain.Job, at time.Time) JobEvent {
	event := EventJobCompleted
	if job.Status == domain.JobStatusFailed {
		event = EventJobFailed
	}

	var saved int64
	for _, r := range job.Results {
		if d := r.OriginalSize - r.CompressedSize; d > 0 {
			saved += d
		}
	}

	return JobEvent{
		Event:      event,
		JobID:      job.ID,
		Status:     job.Status,
		Images:     len(job.Sources),
		Results:    job.Results,
		BytesSaved: saved,
		Error:      job.Error,
		OccurredAt: at.UTC(),
	}
}
