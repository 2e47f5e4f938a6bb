package zstdstream

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// writerEnvImpl is the default environment over a plain io.Writer.
type writerEnvImpl struct {
	w io.Writer
}

func (w *writerEnvImpl) WriteFrame(p []byte) (n int, err error) {
	return w.w.Write(p)
}

func (w *writerEnvImpl) WriteSeekTable(p []byte) (n int, err error) {
	return w.w.Write(p)
}

// Writer produces a seekable archive: every Write becomes one frame, and
// Close appends the seek table.
type Writer interface {
	// Write writes a chunk of data as a separate frame into the archive.
	//
	// Write does no coalescing or splitting, so the caller's chunking
	// decides the random-access granularity.
	Write(src []byte) (int, error)

	// Close writes the seek table and releases occupied memory.  The
	// underlying writer is not closed.
	Close() (err error)
}

// FrameSource returns one frame of data at a time, nil when exhausted.
type FrameSource func() ([]byte, error)

// ConcurrentWriter additionally compresses many frames in parallel while
// preserving stream order.
type ConcurrentWriter interface {
	Writer

	// WriteMany drains frameSource, compressing frames concurrently.
	WriteMany(ctx context.Context, frameSource FrameSource, options ...WriteManyOption) error
}

type writerImpl struct {
	frameEntries []seekTableEntry

	o      writerOptions
	closed bool

	once *sync.Once
}

var (
	_ io.Writer = (*writerImpl)(nil)
	_ io.Closer = (*writerImpl)(nil)
)

// NewWriter wraps w into a seekable archive writer.  Frames are produced
// by this package's rich-memory compression path; compression parameters
// are set through WithWCompressOptions.
func NewWriter(w io.Writer, opts ...WOption) (ConcurrentWriter, error) {
	sw := writerImpl{
		once: &sync.Once{},
	}

	sw.o.setDefault()
	for _, o := range opts {
		if err := o(&sw.o); err != nil {
			return nil, err
		}
	}

	if sw.o.env == nil {
		sw.o.env = &writerEnvImpl{w: w}
	}

	return &sw, nil
}

func (s *writerImpl) Write(src []byte) (int, error) {
	if s.closed {
		return 0, fmt.Errorf("%w: writer is closed", ErrState)
	}
	if len(src) == 0 {
		return 0, nil
	}

	dst, entry, err := s.encodeOne(src)
	if err != nil {
		return 0, err
	}

	n, err := s.o.env.WriteFrame(dst)
	if err != nil {
		return 0, err
	}
	if n != len(dst) {
		return 0, fmt.Errorf("partial write: %d out of %d", n, len(dst))
	}

	s.o.logger.Debug("appending frame", zap.Object("frame", &entry))
	s.frameEntries = append(s.frameEntries, entry)

	return len(src), nil
}

// encodeOne compresses src into a single frame and its seek table entry.
func (s *writerImpl) encodeOne(src []byte) ([]byte, seekTableEntry, error) {
	var entry seekTableEntry

	if int64(len(src)) > maxSeekableFrameSize {
		return nil, entry, fmt.Errorf("%w: chunk size %d too big for seekable format",
			ErrParameter, len(src))
	}
	if int64(len(s.frameEntries)) >= maxNumberOfFrames {
		return nil, entry, fmt.Errorf("%w: too many frames for seekable format", ErrParameter)
	}

	dst, err := Compress(src, s.o.copts...)
	if err != nil {
		return nil, entry, err
	}
	if int64(len(dst)) > maxSeekableFrameSize {
		return nil, entry, fmt.Errorf("%w: result size %d too big for seekable format",
			ErrParameter, len(dst))
	}

	entry = seekTableEntry{
		CompressedSize:   uint32(len(dst)),
		DecompressedSize: uint32(len(src)),
		Checksum:         uint32(xxhash.Sum64(src)),
	}
	return dst, entry, nil
}

func (s *writerImpl) Close() (err error) {
	s.once.Do(func() {
		err = multierr.Append(err, s.writeSeekTable())
		s.closed = true
	})
	return
}

type encodeResult struct {
	buf   []byte
	entry seekTableEntry
}

func (s *writerImpl) writeManyEncoder(ctx context.Context, ch chan<- encodeResult, frame []byte) func() error {
	return func() error {
		dst, entry, err := s.encodeOne(frame)
		if err != nil {
			return fmt.Errorf("failed to encode frame: %w", err)
		}

		select {
		case <-ctx.Done():
		// Fulfill our promise
		case ch <- encodeResult{dst, entry}:
			close(ch)
		}

		return nil
	}
}

func (s *writerImpl) writeManyProducer(ctx context.Context, frameSource FrameSource, g *errgroup.Group, queue chan<- chan encodeResult) func() error {
	return func() error {
		for {
			frame, err := frameSource()
			if err != nil {
				return fmt.Errorf("frame source failed: %w", err)
			}
			if frame == nil {
				close(queue)
				return nil
			}

			// A per-frame channel acts as an ordered promise, so results
			// stay in stream order even when compression finishes out of
			// order.
			ch := make(chan encodeResult, 1)
			select {
			case <-ctx.Done():
				return nil
			case queue <- ch:
			}

			g.Go(s.writeManyEncoder(ctx, ch, frame))
		}
	}
}

func (s *writerImpl) writeManyConsumer(ctx context.Context, callback func(uint32), queue <-chan chan encodeResult) func() error {
	return func() error {
		for {
			var ch <-chan encodeResult
			select {
			case <-ctx.Done():
				return nil
			case ch = <-queue:
			}
			if ch == nil {
				return nil
			}

			var result encodeResult
			select {
			case <-ctx.Done():
				return nil
			case result = <-ch:
			}

			n, err := s.o.env.WriteFrame(result.buf)
			if err != nil {
				return fmt.Errorf("failed to write compressed data: %w", err)
			}
			if n != len(result.buf) {
				return fmt.Errorf("partial write: %d out of %d", n, len(result.buf))
			}
			s.frameEntries = append(s.frameEntries, result.entry)

			if callback != nil {
				callback(result.entry.DecompressedSize)
			}
		}
	}
}

func (s *writerImpl) WriteMany(ctx context.Context, frameSource FrameSource, options ...WriteManyOption) error {
	if s.closed {
		return fmt.Errorf("%w: writer is closed", ErrState)
	}

	opts := writeManyOptions{concurrency: runtime.GOMAXPROCS(0)}
	for _, o := range options {
		if err := o(&opts); err != nil {
			return err // no wrap, these should be user-comprehensible
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency + 2) // producer and consumer
	// Extra room in the queue keeps throughput high when frames finish out
	// of order.
	queue := make(chan chan encodeResult, opts.concurrency*2)
	g.Go(s.writeManyProducer(gCtx, frameSource, g, queue))
	g.Go(s.writeManyConsumer(gCtx, opts.writeCallback, queue))
	return g.Wait()
}

func (s *writerImpl) writeSeekTable() error {
	seekTableBytes, err := s.EndStream()
	if err != nil {
		return err
	}

	_, err = s.o.env.WriteSeekTable(seekTableBytes)
	return err
}
