package zstdstream

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Rogdham/zstdstream-go/env"
)

// ROption configures a seekable Reader or Decoder.
type ROption func(*readerOptions) error

type readerOptions struct {
	logger    *zap.Logger
	env       env.REnvironment
	dopts     []DOption
	cacheSize int
}

func (o *readerOptions) setDefault() {
	*o = readerOptions{
		logger:    zap.NewNop(),
		cacheSize: 1,
	}
}

// WithRLogger sets the reader logger.
func WithRLogger(l *zap.Logger) ROption {
	return func(o *readerOptions) error { o.logger = l; return nil }
}

// WithREnvironment injects a custom storage environment, replacing the
// plain io.ReadSeeker plumbing.
func WithREnvironment(e env.REnvironment) ROption {
	return func(o *readerOptions) error { o.env = e; return nil }
}

// WithRDecompressOptions sets the decompression parameters used for every
// frame fetch, e.g. a dictionary.
func WithRDecompressOptions(opts ...DOption) ROption {
	return func(o *readerOptions) error { o.dopts = opts; return nil }
}

// WithFrameCache sets how many decoded frames stay resident.  Larger
// caches trade memory for fewer re-decodes on scattered reads.
func WithFrameCache(n int) ROption {
	return func(o *readerOptions) error {
		if n < 1 {
			return fmt.Errorf("%w: frame cache size %d < 1", ErrParameter, n)
		}
		o.cacheSize = n
		return nil
	}
}
