package pipeline

import (
	"context"
	"errors"

	"github.com/dunamismax/shrinkpic/internal/domain"
	"github.com/dunamismax/shrinkpic/internal/storage"
)

// ObjectReader is the read side of the object store.
type ObjectReader interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
}

// ObjectWriter is the write side of the object store.
type ObjectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

type ObjectStoreFetcher struct {
	Storage ObjectReader
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, _ string, src domain.JobSource) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	data, err := f.Storage.ReadObject(ctx, src.ObjectKey)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > domain.MaxFileBytes {
		return nil, domain.ErrFileTooLarge
	}
	return data, nil
}

type ObjectStoreEmitter struct {
	Storage ObjectWriter
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, jobID string, index int, result domain.ProcessedResult) (domain.JobResult, error) {
	if e.Storage == nil {
		return domain.JobResult{}, errors.New("storage client is required")
	}

	key := storage.OutputKey(jobID, index, result.OutputName)
	if err := e.Storage.WriteObject(ctx, key, result.Data, result.MediaType); err != nil {
		return domain.JobResult{}, err
	}
	return jobResult(result, key), nil
}
