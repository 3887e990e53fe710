package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Options struct {
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

type Client struct {
	client *asynq.Client
	opts   Options
}

func NewClient(redisOpt asynq.RedisClientOpt, opts Options) *Client {
	if opts.Queue == "" {
		opts.Queue = "default"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	return &Client{client: asynq.NewClient(redisOpt), opts: opts}
}

func (c *Client) Queue() string {
	return c.opts.Queue
}

// EnqueueProcessBatch schedules a stored job. The job id doubles as the task
// id so a job is never queued twice.
func (c *Client) EnqueueProcessBatch(ctx context.Context, payload ProcessBatchPayload) (*asynq.TaskInfo, error) {
	task, err := NewProcessBatchTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.opts.Queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(c.opts.MaxRetry),
		asynq.Timeout(c.opts.Timeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
