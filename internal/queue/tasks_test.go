package queue

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"
)

func TestProcessBatchTask(t *testing.T) {
	payload := ProcessBatchPayload{JobID: "job-123", RequestedAt: time.Now().UTC()}

	task, err := NewProcessBatchTask(payload)
	if err != nil {
		t.Fatalf("NewProcessBatchTask returned error: %v", err)
	}
	if task.Type() != TypeProcessBatch {
		t.Fatalf("expected task type %q, got %q", TypeProcessBatch, task.Type())
	}

	parsed, err := ParseProcessBatchPayload(task)
	if err != nil {
		t.Fatalf("ParseProcessBatchPayload returned error: %v", err)
	}
	if parsed.JobID != payload.JobID {
		t.Fatalf("expected job_id %q, got %q", payload.JobID, parsed.JobID)
	}
}

func TestProcessBatchTaskRequiresJobID(t *testing.T) {
	if _, err := NewProcessBatchTask(ProcessBatchPayload{}); err == nil {
		t.Fatal("expected error for empty job id")
	}
	if _, err := ParseProcessBatchPayload(asynq.NewTask(TypeProcessBatch, []byte(`{}`))); err == nil {
		t.Fatal("expected error for payload without job id")
	}
	if _, err := ParseProcessBatchPayload(asynq.NewTask(TypeProcessBatch, []byte(`not json`))); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
