package batch

import (
	"context"

	"github.com/dunamismax/shrinkpic/internal/domain"
)

// ImageProcessor is the per-image transform, satisfied by
// *pipeline.Transformer.
type ImageProcessor interface {
	Process(ctx context.Context, data []byte, name string, params domain.ProcessingParameters) (domain.ProcessedResult, error)
	CanEncode(format domain.Format) bool
}

// LocalExecutor processes images one at a time, in order, in process.
type LocalExecutor struct {
	processor ImageProcessor
}

func NewLocalExecutor(processor ImageProcessor) *LocalExecutor {
	return &LocalExecutor{processor: processor}
}

func (e *LocalExecutor) CanEncode(format domain.Format) bool {
	return e.processor.CanEncode(format)
}

func (e *LocalExecutor) Execute(ctx context.Context, files []domain.ImageFile, params domain.ProcessingParameters, progress chan<- Progress) ([]domain.ProcessedResult, error) {
	results := make([]domain.ProcessedResult, 0, len(files))
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := e.processor.Process(ctx, file.Data, file.Name, params)
		if err != nil {
			return nil, domain.AtImage(err, i, file.Name)
		}
		results = append(results, result)

		if err := publish(ctx, progress, Progress{Completed: i + 1, Total: len(files), Path: ModeLocal}); err != nil {
			return nil, err
		}
	}
	return results, nil
}
