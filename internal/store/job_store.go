package store

import (
	"context"
	"errors"

	"github.com/dunamismax/shrinkpic/internal/domain"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished is returned when a status change targets a job that has
	// already succeeded or failed.
	ErrJobFinished = errors.New("job already finished")
)

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	Complete(ctx context.Context, id string, results []domain.JobResult) (domain.Job, error)
	Fail(ctx context.Context, id, message string) (domain.Job, error)
}
