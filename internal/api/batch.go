package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/shrinkpic/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultQuality  = 80
	multipartMemory = 32 << 20
	formOverhead    = 1 << 20
)

type batchImage struct {
	Data           string        `json:"data"`
	Name           string        `json:"name"`
	OutputName     string        `json:"outputName"`
	OriginalSize   int64         `json:"originalSize"`
	CompressedSize int64         `json:"compressedSize"`
	Width          int           `json:"width"`
	Height         int           `json:"height"`
	Format         domain.Format `json:"format"`
}

// formError is a request problem reported as 400 with a client facing message.
type formError struct {
	message string
	err     error
}

func (e *formError) Error() string {
	if e.err == nil {
		return e.message
	}
	return e.message + ": " + e.err.Error()
}

func (e *formError) Unwrap() error { return e.err }

// batchForm is a parsed processing request: uploaded files plus parameters.
type batchForm struct {
	files      []domain.ImageFile
	params     domain.ProcessingParameters
	webhookURL string
}

func (s *Server) handleBatchCompress(w http.ResponseWriter, r *http.Request) {
	form, err := parseBatchForm(w, r, domain.FormatJPEG)
	if err != nil {
		s.writeFormError(w, err)
		return
	}

	results := make([]domain.ProcessedResult, len(form.files))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(s.concurrency)
	for i, file := range form.files {
		g.Go(func() error {
			result, err := s.processor.Process(ctx, file.Data, file.Name, form.params)
			if err != nil {
				return domain.AtImage(err, i, file.Name)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("batch processing failed", zap.Int("images", len(form.files)), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Processing failed",
			"details": err.Error(),
		})
		return
	}

	images := make([]batchImage, 0, len(results))
	usage := domain.SummarizeUsage(results)
	for _, res := range results {
		images = append(images, batchImage{
			Data:           base64.StdEncoding.EncodeToString(res.Data),
			Name:           res.Name,
			OutputName:     res.OutputName,
			OriginalSize:   res.OriginalBytes,
			CompressedSize: res.CompressedBytes,
			Width:          res.Width,
			Height:         res.Height,
			Format:         res.Format,
		})
	}
	s.metrics.observeBatch("sync", usage)
	s.logger.Info("batch processed",
		zap.Int("images", usage.Images),
		zap.Int64("bytes_in", usage.BytesIn),
		zap.Int64("bytes_out", usage.BytesOut),
		zap.String("strategy", string(form.params.Strategy)),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"images":  images,
	})
}

func (s *Server) writeFormError(w http.ResponseWriter, err error) {
	var fe *formError
	if !errors.As(err, &fe) {
		s.logger.Error("read upload failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "Internal server error"})
		return
	}

	body := map[string]any{"success": false, "error": fe.message}
	if fe.err != nil {
		body["details"] = fe.err.Error()
	}
	writeJSON(w, http.StatusBadRequest, body)
}

// parseBatchForm reads the multipart "images" files and the processing
// fields. defaultFormat applies when the form has no format field.
func parseBatchForm(w http.ResponseWriter, r *http.Request, defaultFormat domain.Format) (batchForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, domain.MaxBatchSize*domain.MaxFileBytes+formOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return batchForm{}, &formError{message: "Upload too large", err: err}
		}
		return batchForm{}, &formError{message: "Invalid form data", err: err}
	}

	headers := r.MultipartForm.File["images"]
	if len(headers) == 0 {
		return batchForm{}, &formError{message: "No images uploaded"}
	}
	if len(headers) > domain.MaxBatchSize {
		return batchForm{}, &formError{message: "Too many files", err: fmt.Errorf("%w: got %d", domain.ErrBatchTooLarge, len(headers))}
	}

	params, err := parseParams(r, defaultFormat)
	if err != nil {
		return batchForm{}, &formError{message: "Invalid parameters", err: err}
	}

	files := make([]domain.ImageFile, 0, len(headers))
	for i, fh := range headers {
		file, err := readUpload(fh)
		if err != nil {
			return batchForm{}, err
		}
		if err := domain.ValidateImage(domain.ImageInput{
			Source:    domain.BytesSource(file.Data),
			Name:      file.Name,
			MediaType: file.MediaType,
		}); err != nil {
			return batchForm{}, &formError{message: "Invalid image", err: domain.AtImage(err, i, file.Name)}
		}
		files = append(files, file)
	}

	return batchForm{
		files:      files,
		params:     params,
		webhookURL: strings.TrimSpace(r.FormValue("webhookUrl")),
	}, nil
}

func readUpload(fh *multipart.FileHeader) (domain.ImageFile, error) {
	if fh.Size > domain.MaxFileBytes {
		return domain.ImageFile{}, &formError{message: "File too large", err: fmt.Errorf("%w: %s", domain.ErrFileTooLarge, fh.Filename)}
	}
	f, err := fh.Open()
	if err != nil {
		return domain.ImageFile{}, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return domain.ImageFile{}, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	return domain.ImageFile{
		Name:      fh.Filename,
		MediaType: domain.DetectMediaType(fh.Header.Get("Content-Type"), data),
		Data:      data,
	}, nil
}

// parseParams reads the processing fields. An unparseable or zero quality
// falls back to the default; unknown strategies and formats are rejected.
func parseParams(r *http.Request, defaultFormat domain.Format) (domain.ProcessingParameters, error) {
	params := domain.ProcessingParameters{
		Quality:  defaultQuality,
		Strategy: domain.StrategyOriginal,
		Format:   defaultFormat,
	}

	if q, err := strconv.Atoi(strings.TrimSpace(r.FormValue("quality"))); err == nil && q != 0 {
		params.Quality = q
	}
	if v := strings.TrimSpace(r.FormValue("resizeStrategy")); v != "" {
		params.Strategy = domain.ResizeStrategy(v)
	}

	var err error
	if params.MaxWidth, err = optionalInt(r.FormValue("maxWidth")); err != nil {
		return params, fmt.Errorf("maxWidth: %w", err)
	}
	if params.MaxHeight, err = optionalInt(r.FormValue("maxHeight")); err != nil {
		return params, fmt.Errorf("maxHeight: %w", err)
	}

	if v := strings.TrimSpace(r.FormValue("format")); v != "" {
		format, err := domain.ParseFormat(v)
		if err != nil {
			return params, err
		}
		params.Format = format
	}

	return params, params.Validate()
}

func optionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
