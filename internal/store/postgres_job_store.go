package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/shrinkpic/internal/domain"
	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS batch_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	params JSONB NOT NULL,
	sources JSONB NOT NULL,
	results JSONB NOT NULL DEFAULT '[]'::jsonb,
	webhook_url TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

const selectJobSQL = `SELECT id, status, params, sources, results, webhook_url, error, created_at, updated_at
	 FROM batch_jobs
	 WHERE id = $1`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure batch_jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("marshal job params: %w", err)
	}
	sources, err := json.Marshal(job.Sources)
	if err != nil {
		return fmt.Errorf("marshal job sources: %w", err)
	}
	results, err := marshalResults(job.Results)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO batch_jobs (id, status, params, sources, results, webhook_url, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID,
		job.Status,
		params,
		sources,
		results,
		job.WebhookURL,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	var (
		job                      domain.Job
		params, sources, results []byte
	)
	err := s.db.QueryRowContext(ctx, selectJobSQL, id).Scan(
		&job.ID,
		&job.Status,
		&params,
		&sources,
		&results,
		&job.WebhookURL,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	if err := json.Unmarshal(params, &job.Params); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job params: %w", err)
	}
	if err := json.Unmarshal(sources, &job.Sources); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job sources: %w", err)
	}
	if err := json.Unmarshal(results, &job.Results); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job results: %w", err)
	}
	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	return s.exec(ctx, id, "update job status",
		`UPDATE batch_jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status NOT IN ($4, $5)`,
		status, time.Now().UTC(), id, domain.JobStatusSucceeded, domain.JobStatusFailed,
	)
}

func (s *PostgresJobStore) Complete(ctx context.Context, id string, results []domain.JobResult) (domain.Job, error) {
	encoded, err := marshalResults(results)
	if err != nil {
		return domain.Job{}, err
	}
	return s.exec(ctx, id, "complete job",
		`UPDATE batch_jobs SET status = $1, results = $2, error = '', updated_at = $3 WHERE id = $4`,
		domain.JobStatusSucceeded, encoded, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) Fail(ctx context.Context, id, message string) (domain.Job, error) {
	return s.exec(ctx, id, "fail job",
		`UPDATE batch_jobs SET status = $1, results = '[]'::jsonb, error = $2, updated_at = $3 WHERE id = $4`,
		domain.JobStatusFailed, message, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) exec(ctx context.Context, id, op, query string, args ...any) (domain.Job, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Job{}, fmt.Errorf("%s: %w", op, err)
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	// A guarded update that matched nothing hit a finished job.
	if n == 0 {
		return job, ErrJobFinished
	}
	return job, nil
}

func marshalResults(results []domain.JobResult) ([]byte, error) {
	if results == nil {
		results = []domain.JobResult{}
	}
	encoded, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("marshal job results: %w", err)
	}
	return encoded, nil
}
