package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/shrinkpic/internal/domain"
	"github.com/dunamismax/shrinkpic/internal/id"
	"github.com/dunamismax/shrinkpic/internal/preview"
	"go.uber.org/zap"
)

// Mode selects where a batch runs.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
	ModeAuto   Mode = "auto"
)

func ParseMode(in string) (Mode, error) {
	switch Mode(in) {
	case ModeLocal, ModeRemote, ModeAuto:
		return Mode(in), nil
	case "":
		return ModeAuto, nil
	default:
		return "", fmt.Errorf("unknown batch mode %q", in)
	}
}

var ErrNoEndpoint = errors.New("remote mode requires a batch endpoint")

// Progress is published after every completed image and, on the remote
// path, while a chunk uploads.
type Progress struct {
	Completed     int
	Total         int
	UploadedBytes int64
	UploadTotal   int64
	Path          Mode
}

// Executor turns resolved files into results in input order.
type Executor interface {
	Execute(ctx context.Context, files []domain.ImageFile, params domain.ProcessingParameters, progress chan<- Progress) ([]domain.ProcessedResult, error)
}

type Options struct {
	Mode     Mode
	Local    *LocalExecutor
	Remote   *RemoteExecutor
	Resolver *SourceResolver
	Registry *preview.Registry
	Logger   *zap.Logger
}

type Orchestrator struct {
	mode     Mode
	local    *LocalExecutor
	remote   *RemoteExecutor
	resolver *SourceResolver
	registry *preview.Registry
	logger   *zap.Logger
	now      func() time.Time
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeAuto
	}
	if mode == ModeLocal && opts.Local == nil {
		return nil, errors.New("local mode requires a local executor")
	}
	if mode == ModeRemote && opts.Remote == nil {
		return nil, ErrNoEndpoint
	}
	if opts.Local == nil && opts.Remote == nil {
		return nil, errors.New("at least one executor is required")
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewSourceResolver(nil)
	}
	registry := opts.Registry
	if registry == nil {
		registry = preview.NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		mode:     mode,
		local:    opts.Local,
		remote:   opts.Remote,
		resolver: resolver,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (o *Orchestrator) Registry() *preview.Registry {
	return o.registry
}

// ProcessBatch validates the batch, resolves every source once and runs the
// images on the selected path. Any failure fails the whole run. Progress
// sends block until received or ctx is done, so callers must drain the
// channel.
func (o *Orchestrator) ProcessBatch(ctx context.Context, images []domain.ImageInput, params domain.ProcessingParameters, progress chan<- Progress) (*Run, error) {
	if err := domain.ValidateBatch(images); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	path := o.selectPath(params)
	executor, err := o.executor(path)
	if err != nil {
		return nil, err
	}

	files, err := o.resolver.Resolve(ctx, images)
	if err != nil {
		return nil, err
	}

	started := o.now()
	o.logger.Info("batch started",
		zap.String("path", string(path)),
		zap.Int("images", len(files)),
		zap.String("strategy", string(params.Strategy)),
		zap.Int("quality", params.Quality),
	)

	results, err := executor.Execute(ctx, files, params, progress)
	if err != nil {
		o.logger.Warn("batch failed", zap.String("path", string(path)), zap.Error(err))
		return nil, err
	}
	if len(results) != len(files) {
		return nil, domain.Transport("collect results", fmt.Errorf("expected %d results, got %d", len(files), len(results)))
	}

	run := &Run{
		ID:        id.New(),
		Path:      path,
		Params:    params,
		Results:   results,
		CreatedAt: started,
		registry:  o.registry,
	}
	for i := range run.Results {
		run.Results[i].Handle = o.registry.Allocate(run.Results[i].Data, run.Results[i].MediaType)
	}

	usage := domain.SummarizeUsage(results)
	o.logger.Info("batch completed",
		zap.String("run_id", run.ID),
		zap.String("path", string(path)),
		zap.Int("images", usage.Images),
		zap.Int64("bytes_saved", usage.BytesSaved),
		zap.Duration("elapsed", o.now().Sub(started)),
	)
	return run, nil
}

// selectPath picks the remote path in auto mode only when the local codec
// cannot produce the requested format and an endpoint is configured.
func (o *Orchestrator) selectPath(params domain.ProcessingParameters) Mode {
	switch o.mode {
	case ModeLocal, ModeRemote:
		return o.mode
	}
	if o.local == nil {
		return ModeRemote
	}
	if o.remote != nil && !o.local.CanEncode(params.Format) {
		return ModeRemote
	}
	return ModeLocal
}

func (o *Orchestrator) executor(path Mode) (Executor, error) {
	if path == ModeRemote {
		if o.remote == nil {
			return nil, ErrNoEndpoint
		}
		return o.remote, nil
	}
	return o.local, nil
}

func publish(ctx context.Context, progress chan<- Progress, p Progress) error {
	if progress == nil {
		return nil
	}
	select {
	case progress <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
