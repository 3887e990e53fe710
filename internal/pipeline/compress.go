package pipeline

import (
	"context"
	"fmt"

	"github.com/dunamismax/shrinkpic/internal/domain"
)

const (
	DefaultMaxIteration       = 10
	DefaultAlreadySmallerThan = 50 * 1024
)

// CompressOptions bounds the quality search. MaxBytes of zero disables the
// byte target, leaving a single encode at the requested quality.
type CompressOptions struct {
	MaxIteration       int
	AlreadySmallerThan int64
	MaxBytes           int64
}

func (o CompressOptions) withDefaults() CompressOptions {
	if o.MaxIteration <= 0 {
		o.MaxIteration = DefaultMaxIteration
	}
	if o.AlreadySmallerThan <= 0 {
		o.AlreadySmallerThan = DefaultAlreadySmallerThan
	}
	if o.MaxBytes < 0 {
		o.MaxBytes = 0
	}
	return o
}

func (t *Transformer) compress(ctx context.Context, px Pixels, format domain.Format, quality int) ([]byte, error) {
	best, err := t.codec.Encode(ctx, px, format, quality)
	if err != nil {
		return nil, fmt.Errorf("encode at quality %d: %w", quality, err)
	}

	for i := 1; i < t.opts.MaxIteration; i++ {
		size := int64(len(best))
		if size <= t.opts.AlreadySmallerThan || t.opts.MaxBytes == 0 || size <= t.opts.MaxBytes {
			break
		}
		next := quality * 9 / 10
		if next < 1 || next == quality {
			break
		}
		quality = next

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candidate, err := t.codec.Encode(ctx, px, format, quality)
		if err != nil {
			return nil, fmt.Errorf("encode at quality %d: %w", quality, err)
		}
		if len(candidate) < len(best) {
			best = candidate
		}
	}
	return best, nil
}
