package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
)

// Job is an asynchronous batch: its sources are uploaded to object storage and
// a worker runs the same per-image transform as the synchronous endpoint.
type Job struct {
	ID         string               `json:"id"`
	Status     string               `json:"status"`
	Params     ProcessingParameters `json:"params"`
	Sources    []JobSource          `json:"sources"`
	Results    []JobResult          `json:"results,omitempty"`
	WebhookURL string               `json:"webhook_url,omitempty"`
	Error      string               `json:"error,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

type JobSource struct {
	Name      string `json:"name"`
	ObjectKey string `json:"object_key"`
	MediaType string `json:"media_type"`
	SizeBytes int64  `json:"size_bytes"`
}

type JobResult struct {
	Name            string `json:"name"`
	OutputName      string `json:"output_name"`
	ObjectKey       string `json:"object_key"`
	Format          Format `json:"format"`
	OriginalSize    int64  `json:"original_size"`
	CompressedSize  int64  `json:"compressed_size"`
	SavedPercentage int    `json:"saved_percentage"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
}

func (j Job) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job id is required")
	}
	if len(j.Sources) == 0 {
		return Validation("validate job", ErrEmptyBatch)
	}
	if len(j.Sources) > MaxBatchSize {
		return Validation("validate job", fmt.Errorf("%w: got %d", ErrBatchTooLarge, len(j.Sources)))
	}
	for i, src := range j.Sources {
		if strings.TrimSpace(src.Name) == "" {
			return AtImage(Validation("validate job", ErrMissingName), i, "")
		}
		if strings.TrimSpace(src.ObjectKey) == "" {
			return AtImage(Validation("validate job", ErrMissingSource), i, src.Name)
		}
	}
	return j.Params.Validate()
}

func (j Job) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}
