// Command shrink resizes and compresses a batch of images, locally or through
// a remote batch endpoint, and packages the results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/dunamismax/shrinkpic/internal/archive"
	"github.com/dunamismax/shrinkpic/internal/batch"
	"github.com/dunamismax/shrinkpic/internal/config"
	"github.com/dunamismax/shrinkpic/internal/domain"
	"github.com/dunamismax/shrinkpic/internal/logging"
	"github.com/dunamismax/shrinkpic/internal/pipeline"
	"go.uber.org/zap"
)

type options struct {
	params   domain.ProcessingParameters
	mode     batch.Mode
	endpoint string
	zipPath  string
	outDir   string
	inputs   []string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	opts, err := parseFlags(os.Args[1:], cfg.Client, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "shrink: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: "console"}, "shrink")
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger, os.Stdout); err != nil {
		logger.Error("batch failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}

func parseFlags(args []string, client config.ClientConfig, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("shrink", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintln(output, "usage: shrink [flags] <file-or-url>...")
		fs.PrintDefaults()
	}

	var (
		quality  = fs.Int("quality", 80, "output quality 1-100")
		strategy = fs.String("strategy", string(domain.StrategyOriginal), "resize strategy: original, max-width, max-height, max-dimension, fit-inside, fixed")
		maxW     = fs.Int("max-width", 0, "width bound in pixels")
		maxH     = fs.Int("max-height", 0, "height bound in pixels")
		format   = fs.String("format", "", "output format: jpg, png, webp (empty keeps the source format on the local path; the remote endpoint returns jpg)")
		mode     = fs.String("mode", client.Mode, "where to process: local, remote, auto")
		endpoint = fs.String("endpoint", client.Endpoint, "remote batch endpoint URL")
		zipPath  = fs.String("zip", "", "write results into this zip archive")
		outDir   = fs.String("out", "", "write results as individual files into this directory")
	)
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	parsedFormat, err := domain.ParseFormat(*format)
	if err != nil {
		return options{}, err
	}
	parsedMode, err := batch.ParseMode(*mode)
	if err != nil {
		return options{}, err
	}

	opts := options{
		params: domain.ProcessingParameters{
			Quality:   *quality,
			Strategy:  domain.ResizeStrategy(*strategy),
			MaxWidth:  *maxW,
			MaxHeight: *maxH,
			Format:    parsedFormat,
		},
		mode:     parsedMode,
		endpoint: strings.TrimSpace(*endpoint),
		zipPath:  *zipPath,
		outDir:   *outDir,
		inputs:   fs.Args(),
	}
	if err := opts.params.Validate(); err != nil {
		return options{}, err
	}
	if len(opts.inputs) == 0 {
		fs.Usage()
		return options{}, errors.New("no input images")
	}
	if opts.zipPath == "" && opts.outDir == "" {
		opts.zipPath = archive.DefaultZipName
	}
	return opts, nil
}

func run(ctx context.Context, cfg config.Config, opts options, logger *zap.Logger, stdout io.Writer) error {
	if err := pipeline.Startup(); err != nil {
		return fmt.Errorf("start image runtime: %w", err)
	}
	defer pipeline.Shutdown()

	transformer, err := pipeline.NewTransformer(pipeline.CompressOptions{
		MaxIteration:       cfg.Compress.MaxIteration,
		AlreadySmallerThan: cfg.Compress.AlreadySmallerThan,
		MaxBytes:           cfg.Compress.MaxBytes,
	})
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: cfg.Client.Timeout}
	orchOpts := batch.Options{
		Mode:     opts.mode,
		Local:    batch.NewLocalExecutor(transformer),
		Resolver: batch.NewSourceResolver(httpClient),
		Logger:   logger,
	}
	if opts.endpoint != "" {
		orchOpts.Remote = batch.NewRemoteExecutor(opts.endpoint, httpClient)
	}
	orchestrator, err := batch.NewOrchestrator(orchOpts)
	if err != nil {
		return err
	}

	images, err := collectInputs(opts.inputs)
	if err != nil {
		return err
	}

	progress := make(chan batch.Progress)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		printProgress(os.Stderr, progress)
	}()

	var session batch.Session
	defer session.Clear()

	result, err := orchestrator.ProcessBatch(ctx, images, opts.params, progress)
	close(progress)
	wg.Wait()
	if err != nil {
		return err
	}
	session.Replace(result)

	return writeOutputs(stdout, result, opts)
}

// collectInputs turns command line arguments into batch inputs. Local files
// are read eagerly; http(s) URLs are fetched by the orchestrator.
func collectInputs(args []string) ([]domain.ImageInput, error) {
	images := make([]domain.ImageInput, 0, len(args))
	for _, arg := range args {
		if u, err := url.Parse(arg); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			images = append(images, domain.ImageInput{
				Source: domain.RemoteSource(arg),
				Name:   path.Base(u.Path),
			})
			continue
		}

		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if info.Size() > domain.MaxFileBytes {
			return nil, domain.Validation("read input", fmt.Errorf("%w: %s", domain.ErrFileTooLarge, arg))
		}
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, err
		}
		images = append(images, domain.ImageInput{
			Source:    domain.BytesSource(data),
			Name:      filepath.Base(arg),
			SizeBytes: info.Size(),
		})
	}
	return images, nil
}

func printProgress(w io.Writer, progress <-chan batch.Progress) {
	for p := range progress {
		if p.UploadTotal > 0 {
			fmt.Fprintf(w, "\ruploading %3d%%", p.UploadedBytes*100/p.UploadTotal)
			continue
		}
		fmt.Fprintf(w, "\r[%s] %d/%d images\n", p.Path, p.Completed, p.Total)
	}
}

func writeOutputs(w io.Writer, run *batch.Run, opts options) error {
	for _, res := range run.Results {
		fmt.Fprintf(w, "%s -> %s  %dx%d  %d KB -> %d KB  (%d%% saved)\n",
			res.Name, res.OutputName, res.Width, res.Height,
			res.OriginalSizeKB, res.CompressedSizeKB, res.SavedPercentage)
	}
	usage := run.Usage()
	fmt.Fprintf(w, "%d images, %d bytes saved\n", usage.Images, usage.BytesSaved)

	if opts.outDir != "" {
		paths, err := archive.SaveAll(opts.outDir, run.Results)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "wrote %d files to %s\n", len(paths), opts.outDir)
	}

	if opts.zipPath != "" {
		f, err := os.Create(opts.zipPath)
		if err != nil {
			return err
		}
		if err := archive.WriteZip(f, run.Results); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(w, "wrote %s\n", opts.zipPath)
	}
	return nil
}
