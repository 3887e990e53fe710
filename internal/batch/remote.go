package batch

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/dunamismax/shrinkpic/internal/domain"
	"github.com/dunamismax/shrinkpic/internal/pipeline"
	jsoniter "github.com/json-iterator/go"
)

// ChunkSize is the largest number of images sent in one request.
const ChunkSize = domain.MaxBatchSize

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type remoteResponse struct {
	Success    bool          `json:"success"`
	Error      string        `json:"error"`
	Details    string        `json:"details"`
	RetryAfter int           `json:"retryAfter"`
	Limit      int           `json:"limit"`
	Images     []remoteImage `json:"images"`
}

type remoteImage struct {
	Data           string `json:"data"`
	Name           string `json:"name"`
	OutputName     string `json:"outputName"`
	OriginalSize   int64  `json:"originalSize"`
	CompressedSize int64  `json:"compressedSize"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Format         string `json:"format"`
}

// RemoteExecutor uploads images to a batch endpoint in chunks and decodes
// the processed images it returns.
type RemoteExecutor struct {
	endpoint string
	client   *http.Client
}

func NewRemoteExecutor(endpoint string, client *http.Client) *RemoteExecutor {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &RemoteExecutor{endpoint: endpoint, client: client}
}

func (e *RemoteExecutor) Execute(ctx context.Context, files []domain.ImageFile, params domain.ProcessingParameters, progress chan<- Progress) ([]domain.ProcessedResult, error) {
	results := make([]domain.ProcessedResult, 0, len(files))
	for start := 0; start < len(files); start += ChunkSize {
		end := min(start+ChunkSize, len(files))
		chunk := files[start:end]

		out, err := e.sendChunk(ctx, chunk, params, func(sent, total int64) error {
			return publish(ctx, progress, Progress{
				Completed:     len(results),
				Total:         len(files),
				UploadedBytes: sent,
				UploadTotal:   total,
				Path:          ModeRemote,
			})
		})
		if err != nil {
			return nil, err
		}
		results = append(results, out...)

		if err := publish(ctx, progress, Progress{Completed: len(results), Total: len(files), Path: ModeRemote}); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (e *RemoteExecutor) sendChunk(ctx context.Context, chunk []domain.ImageFile, params domain.ProcessingParameters, onUpload func(sent, total int64) error) ([]domain.ProcessedResult, error) {
	body, contentType, err := encodeChunk(chunk, params)
	if err != nil {
		return nil, domain.Transport("encode chunk", err)
	}

	reader := &uploadReader{r: bytes.NewReader(body), total: int64(len(body)), onRead: onUpload}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, reader)
	if err != nil {
		return nil, domain.Transport("upload chunk", err)
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, domain.Transport("upload chunk", err)
	}
	defer resp.Body.Close()

	var payload remoteResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&payload)

	if resp.StatusCode == http.StatusTooManyRequests {
		limited := &domain.RateLimitError{RetryAfterSeconds: payload.RetryAfter, Limit: payload.Limit, Message: payload.Error}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && limited.RetryAfterSeconds == 0 {
			limited.RetryAfterSeconds = secs
		}
		return nil, limited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := payload.Error
		if payload.Details != "" {
			msg += ": " + payload.Details
		}
		return nil, domain.Transport("upload chunk", fmt.Errorf("server returned %d %s", resp.StatusCode, msg))
	}
	if decodeErr != nil {
		return nil, domain.Transport("decode response", decodeErr)
	}
	if !payload.Success {
		return nil, domain.Transport("decode response", fmt.Errorf("server reported failure: %s", payload.Error))
	}
	if len(payload.Images) != len(chunk) {
		return nil, domain.Transport("decode response", fmt.Errorf("expected %d images, got %d", len(chunk), len(payload.Images)))
	}

	results := make([]domain.ProcessedResult, 0, len(chunk))
	for i, img := range payload.Images {
		if img.Name != chunk[i].Name {
			return nil, domain.Transport("decode response", fmt.Errorf("image %d: expected %q, got %q", i, chunk[i].Name, img.Name))
		}
		result, err := decodeRemoteImage(img)
		if err != nil {
			return nil, domain.AtImage(domain.Transport("decode response", err), i, img.Name)
		}
		results = append(results, result)
	}
	return results, nil
}

func encodeChunk(chunk []domain.ImageFile, params domain.ProcessingParameters) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for _, file := range chunk {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename=%q`, file.Name))
		h.Set("Content-Type", file.MediaType)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", err
		}
	}

	fields := [][2]string{
		{"quality", strconv.Itoa(params.Quality)},
		{"resizeStrategy", string(params.Strategy)},
	}
	if params.MaxWidth > 0 {
		fields = append(fields, [2]string{"maxWidth", strconv.Itoa(params.MaxWidth)})
	}
	if params.MaxHeight > 0 {
		fields = append(fields, [2]string{"maxHeight", strconv.Itoa(params.MaxHeight)})
	}
	if params.Format != domain.FormatKeep {
		fields = append(fields, [2]string{"format", string(params.Format)})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func decodeRemoteImage(img remoteImage) (domain.ProcessedResult, error) {
	data, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		return domain.ProcessedResult{}, fmt.Errorf("decode image data: %w", err)
	}
	format, err := domain.ParseFormat(img.Format)
	if err != nil || format == domain.FormatKeep {
		format = domain.FormatJPEG
	}

	outputName := img.OutputName
	if outputName == "" {
		stem, _, err := pipeline.SplitName(img.Name)
		if err != nil {
			return domain.ProcessedResult{}, err
		}
		outputName = pipeline.OutputName(stem, format.Extension(), img.Width, img.Height, false)
	}

	compressed := int64(len(data))
	return domain.ProcessedResult{
		Name:             img.Name,
		OutputName:       outputName,
		Data:             data,
		MediaType:        format.MediaType(),
		Format:           format,
		OriginalBytes:    img.OriginalSize,
		CompressedBytes:  compressed,
		OriginalSizeKB:   domain.RoundKB(img.OriginalSize),
		CompressedSizeKB: domain.RoundKB(compressed),
		SavedPercentage:  domain.SavedPercentage(img.OriginalSize, compressed),
		Width:            img.Width,
		Height:           img.Height,
	}, nil
}

// uploadReader reports how many request body bytes the transport has read.
type uploadReader struct {
	r      io.Reader
	sent   int64
	total  int64
	onRead func(sent, total int64) error
}

func (u *uploadReader) Read(p []byte) (int, error) {
	n, err := u.r.Read(p)
	if n > 0 {
		u.sent += int64(n)
		if cbErr := u.onRead(u.sent, u.total); cbErr != nil {
			return n, cbErr
		}
	}
	return n, err
}
