package zstdstream

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Directive tells the compressor how much of the pending data must be
// flushed by the current call.
type Directive int

const (
	// Continue lets the codec accumulate input and emit output whenever it
	// judges it profitable.  A call may legitimately return no bytes.
	Continue Directive = iota

	// FlushBlock forces a block boundary: everything fed so far becomes
	// decodable from the emitted bytes, but the frame stays open.
	FlushBlock

	// FlushFrame emits all pending data and closes the frame, epilogue and
	// checksum included.  The stream stays usable; the next write starts a
	// new frame.
	FlushFrame
)

func (d Directive) String() string {
	switch d {
	case Continue:
		return "continue"
	case FlushBlock:
		return "flush-block"
	case FlushFrame:
		return "flush-frame"
	default:
		return fmt.Sprintf("directive(%d)", int(d))
	}
}

// Compressor is a streaming compression handle.  Methods serialize through
// an internal mutex, so a handle may be shared, but calls on it never
// overlap.  Output returned by one call must be consumed before the slice
// of a later call is interpreted, as frames span calls.
type Compressor struct {
	mu   sync.Mutex
	enc  *zstd.Encoder
	sink *chunkedBuffer

	last Directive
	// framePending is set while the current frame holds data that has not
	// been sealed by FlushFrame.
	framePending bool

	closed atomic.Bool
	logger *zap.Logger
}

// NewCompressor opens a streaming compressor.  Every supplied parameter is
// validated against the codec's bounds table; rejected values fail with
// ErrParameter before any resource is acquired.
func NewCompressor(opts ...COption) (*Compressor, error) {
	var o compressOptions
	o.setDefault()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	eopts, err := o.encoderOptions()
	if err != nil {
		return nil, err
	}

	sink := &chunkedBuffer{}
	enc, err := zstd.NewWriter(sink, eopts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrParameter, err)
	}

	return &Compressor{
		enc:    enc,
		sink:   sink,
		logger: o.logger,
	}, nil
}

// Compress feeds src to the codec and applies the directive.  The returned
// slice holds whatever compressed bytes the call produced; it may be empty
// for Continue.  On error, output produced by the failed call is discarded.
func (c *Compressor) Compress(src []byte, directive Directive) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, fmt.Errorf("%w: compressor is closed", ErrState)
	}
	switch directive {
	case Continue, FlushBlock, FlushFrame:
	default:
		return nil, fmt.Errorf("%w: unknown directive %d", ErrParameter, int(directive))
	}

	if len(src) > 0 {
		if _, err := c.enc.Write(src); err != nil {
			c.sink.reset()
			return nil, classifyCodecError(err)
		}
		c.framePending = true
	}

	switch directive {
	case FlushBlock:
		if c.framePending {
			if err := c.enc.Flush(); err != nil {
				c.sink.reset()
				return nil, classifyCodecError(err)
			}
		}
	case FlushFrame:
		if c.framePending {
			if err := c.closeFrame(); err != nil {
				c.sink.reset()
				return nil, err
			}
		}
	}

	c.last = directive
	return c.sink.take(), nil
}

// Flush is shorthand for Compress(nil, directive).
func (c *Compressor) Flush(directive Directive) ([]byte, error) {
	return c.Compress(nil, directive)
}

// closeFrame seals the current frame and re-arms the encoder for the next
// one.  Callers hold c.mu.
func (c *Compressor) closeFrame() error {
	if err := c.enc.Close(); err != nil {
		return classifyCodecError(err)
	}
	c.enc.Reset(c.sink)
	c.framePending = false
	return nil
}

// LastDirective reports the directive of the most recent Compress call.
func (c *Compressor) LastDirective() Directive {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Close seals the pending frame, returns its tail bytes and releases the
// codec context.  If the last frame was already sealed no empty frame is
// appended.  Closing twice fails with ErrState.
func (c *Compressor) Close() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: compressor already closed", ErrState)
	}

	var tail []byte
	var err error
	if c.framePending {
		if ferr := c.closeFrame(); ferr != nil {
			c.sink.reset()
			err = multierr.Append(err, ferr)
		} else {
			tail = c.sink.take()
		}
	} else {
		// Encoder teardown may emit an empty frame; it was never requested,
		// so it is not part of the stream.
		err = multierr.Append(err, classifyCodecError(c.enc.Close()))
		c.sink.reset()
	}

	c.last = FlushFrame
	if err != nil {
		return nil, err
	}
	c.logger.Debug("compressor closed", zap.Int("tail", len(tail)))
	return tail, nil
}
