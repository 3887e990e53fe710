package pipeline

import (
	"context"

	"github.com/dunamismax/shrinkpic/internal/domain"
)

// Fetcher loads the bytes of one job source.
type Fetcher interface {
	Fetch(ctx context.Context, jobID string, src domain.JobSource) ([]byte, error)
}

// Emitter persists one processed image and reports where it went.
type Emitter interface {
	Emit(ctx context.Context, jobID string, index int, result domain.ProcessedResult) (domain.JobResult, error)
}

type Result struct {
	Outputs []domain.JobResult
	Usage   domain.Usage
}

// Processor runs a stored job through fetch, transform and emit stages.
type Processor struct {
	fetcher     Fetcher
	transformer *Transformer
	emitter     Emitter
}

func NewProcessor(fetcher Fetcher, transformer *Transformer, emitter Emitter) *Processor {
	return &Processor{fetcher: fetcher, transformer: transformer, emitter: emitter}
}

// Process handles the job's sources in order and stops at the first failure.
func (p *Processor) Process(ctx context.Context, job domain.Job) (Result, error) {
	if err := job.Validate(); err != nil {
		return Result{}, err
	}

	processed := make([]domain.ProcessedResult, 0, len(job.Sources))
	out := Result{Outputs: make([]domain.JobResult, 0, len(job.Sources))}
	for i, src := range job.Sources {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		data, err := p.fetcher.Fetch(ctx, job.ID, src)
		if err != nil {
			return Result{}, domain.AtImage(domain.Transport("fetch source", err), i, src.Name)
		}

		result, err := p.transformer.Process(ctx, data, src.Name, job.Params)
		if err != nil {
			return Result{}, domain.AtImage(err, i, src.Name)
		}

		written, err := p.emitter.Emit(ctx, job.ID, i, result)
		if err != nil {
			return Result{}, domain.AtImage(domain.Transport("emit output", err), i, src.Name)
		}
		processed = append(processed, result)
		out.Outputs = append(out.Outputs, written)
	}

	out.Usage = domain.SummarizeUsage(processed)
	return out, nil
}

func jobResult(result domain.ProcessedResult, key string) domain.JobResult {
	return domain.JobResult{
		Name:            result.Name,
		OutputName:      result.OutputName,
		ObjectKey:       key,
		Format:          result.Format,
		OriginalSize:    result.OriginalBytes,
		CompressedSize:  result.CompressedBytes,
		SavedPercentage: result.SavedPercentage,
		Width:           result.Width,
		Height:          result.Height,
	}
}
