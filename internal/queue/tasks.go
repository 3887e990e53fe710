package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	jsoniter "github.com/json-iterator/go"
)

const TypeProcessBatch = "batch:process"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ProcessBatchPayload points the worker at a stored job; sources and
// parameters live in the job store.
type ProcessBatchPayload struct {
	JobID       string    `json:"job_id"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewProcessBatchTask(payload ProcessBatchPayload) (*asynq.Task, error) {
	if payload.JobID == "" {
		return nil, errors.New("job id is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal batch payload: %w", err)
	}
	return asynq.NewTask(TypeProcessBatch, body), nil
}

func ParseProcessBatchPayload(task *asynq.Task) (ProcessBatchPayload, error) {
	var payload ProcessBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessBatchPayload{}, fmt.Errorf("unmarshal batch payload: %w", err)
	}
	if payload.JobID == "" {
		return ProcessBatchPayload{}, errors.New("batch payload has no job id")
	}
	return payload, nil
}
