package zstdstream

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Rogdham/zstdstream-go/env"
)

// WOption configures a seekable Writer or Encoder.
type WOption func(*writerOptions) error

type writerOptions struct {
	logger *zap.Logger
	env    env.WEnvironment
	copts  []COption
}

func (o *writerOptions) setDefault() {
	*o = writerOptions{
		logger: zap.NewNop(),
	}
}

// WithWLogger sets the writer logger.
func WithWLogger(l *zap.Logger) WOption {
	return func(o *writerOptions) error { o.logger = l; return nil }
}

// WithWEnvironment injects a custom output environment, replacing the
// plain io.Writer plumbing.
func WithWEnvironment(e env.WEnvironment) WOption {
	return func(o *writerOptions) error { o.env = e; return nil }
}

// WithWCompressOptions sets the compression parameters used for every
// frame of the archive.
func WithWCompressOptions(opts ...COption) WOption {
	return func(o *writerOptions) error { o.copts = opts; return nil }
}

// WriteManyOption configures a WriteMany call.
type WriteManyOption func(*writeManyOptions) error

type writeManyOptions struct {
	concurrency   int
	writeCallback func(uint32)
}

// WithConcurrency bounds the number of concurrent frame compressions.
func WithConcurrency(n int) WriteManyOption {
	return func(o *writeManyOptions) error {
		if n < 1 {
			return fmt.Errorf("%w: concurrency %d < 1", ErrParameter, n)
		}
		o.concurrency = n
		return nil
	}
}

// WithWriteCallback is invoked with the decompressed size of every frame
// written, in stream order.
func WithWriteCallback(cb func(size uint32)) WriteManyOption {
	return func(o *writeManyOptions) error {
		o.writeCallback = cb
		return nil
	}
}
