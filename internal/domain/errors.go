package domain

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindDecode     Kind = "decode"
	KindTransform  Kind = "transform"
	KindTransport  Kind = "transport"
	KindRateLimit  Kind = "rate_limit"
)

var (
	ErrEmptyBatch      = errors.New("no images provided")
	ErrBatchTooLarge   = fmt.Errorf("maximum %d images allowed per batch", MaxBatchSize)
	ErrMissingSource   = errors.New("image must have either a file or a url")
	ErrMissingName     = errors.New("image must have a name")
	ErrFileTooLarge    = fmt.Errorf("file exceeds maximum size of %dMB", MaxFileBytes>>20)
	ErrNotImage        = errors.New("file is not an image")
	ErrInvalidQuality  = errors.New("quality must be between 1 and 100")
	ErrUnknownStrategy = errors.New("unknown resize strategy")
	ErrUnknownFormat   = errors.New("unknown output format")
	ErrInvalidBounds   = errors.New("invalid resize bounds")

	ErrEmptyFileName   = errors.New("the file name can not be empty")
	ErrInvalidFileName = errors.New("invalid file name")
	ErrUnsupported     = errors.New("unsupported by codec")
	ErrRateLimited     = errors.New("rate limit exceeded")
)

// Error tags a failure with the pipeline stage that produced it so callers
// can map it to a status code or message without string matching.
type Error struct {
	Kind  Kind
	Op    string
	Index int
	Name  string
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Name != "":
		return fmt.Sprintf("%s %s: image %d (%s): %v", e.Kind, e.Op, e.Index, e.Name, e.Err)
	case e.Index >= 0:
		return fmt.Sprintf("%s %s: image %d: %v", e.Kind, e.Op, e.Index, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) && typed.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Op: op, Index: -1, Err: err}
}

func Validation(op string, err error) error { return newError(KindValidation, op, err) }
func Decode(op string, err error) error     { return newError(KindDecode, op, err) }
func Transform(op string, err error) error  { return newError(KindTransform, op, err) }
func Transport(op string, err error) error  { return newError(KindTransport, op, err) }

// AtImage attaches the batch position and name of the failing image.
func AtImage(err error, index int, name string) error {
	var typed *Error
	if !errors.As(err, &typed) {
		return err
	}
	clone := *typed
	clone.Index = index
	clone.Name = name
	return &clone
}

func IsKind(err error, kind Kind) bool {
	if kind == KindRateLimit {
		var limited *RateLimitError
		return errors.As(err, &limited)
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind == kind
	}
	return false
}

// RateLimitError carries the retry guidance of a 429 from the batch endpoint.
type RateLimitError struct {
	RetryAfterSeconds int
	Limit             int
	Message           string
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
