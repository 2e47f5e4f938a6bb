package zstdstream

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// Decompressor is a push-style streaming decompression handle: callers feed
// compressed bytes and pull decoded output, optionally bounded per call.
//
// The codec's decoder is a pull-style reader, so the handle runs it on a
// companion goroutine fed through a condition-guarded input queue.  The
// goroutine is demand-free: it decodes everything the queued input allows
// and then parks until more input or Close arrives.  Public methods
// serialize through the handle mutex.
type Decompressor struct {
	mu   sync.Mutex
	cond *sync.Cond

	dec *zstd.Decoder

	in  []byte
	out []byte
	// starved is set by the source reader just before parking: every byte
	// fed so far has been consumed and all decodable output sits in out.
	starved bool
	decErr  error
	closed  bool

	walker frameWalker
	logger *zap.Logger
	done   chan struct{}
}

// NewDecompressor opens a streaming decompressor.  A fresh handle reports
// NeedsInput and AtFrameEdge.
func NewDecompressor(opts ...DOption) (*Decompressor, error) {
	var o decompressOptions
	o.setDefault()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	d := &Decompressor{
		logger:  o.logger,
		starved: true,
		done:    make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)

	dec, err := zstd.NewReader(decompressorSource{d}, o.decoderOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrParameter, err)
	}
	d.dec = dec

	go d.decodeLoop()
	return d, nil
}

// decompressorSource adapts the input queue to the decoder's io.Reader.
type decompressorSource struct{ d *Decompressor }

func (s decompressorSource) Read(p []byte) (int, error) {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.in) == 0 && !d.closed {
		d.starved = true
		d.cond.Broadcast()
		d.cond.Wait()
	}
	if len(d.in) == 0 {
		return 0, io.EOF
	}
	d.starved = false
	n := copy(p, d.in)
	d.in = d.in[n:]
	return n, nil
}

func (d *Decompressor) decodeLoop() {
	defer close(d.done)
	buf := make([]byte, 64<<10)
	for {
		n, err := d.dec.Read(buf)
		d.mu.Lock()
		if n > 0 {
			d.out = append(d.out, buf[:n]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				d.decErr = classifyCodecError(err)
			}
			// Terminal either way; nothing more will be produced.
			d.starved = true
			d.cond.Broadcast()
			d.mu.Unlock()
			return
		}
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

// Decompress feeds src and returns decoded output.
//
// With maxOutput < 0 the call drains everything decodable from the input
// fed so far.  With maxOutput >= 0 at most that many bytes are returned;
// any surplus stays buffered and NeedsInput turns false until the caller
// drains it with further calls (an empty src is valid for exactly that).
//
// Input that does not start at a decodable frame boundary, or is
// structurally malformed, fails with ErrFormat; a failed handle stays
// failed.
func (d *Decompressor) Decompress(src []byte, maxOutput int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("%w: decompressor is closed", ErrState)
	}
	if d.walker.err != nil {
		return nil, d.walker.err
	}
	if d.decErr != nil {
		d.out = nil
		return nil, d.decErr
	}

	if len(src) > 0 {
		if err := d.walker.feed(src); err != nil {
			return nil, err
		}
		d.in = append(d.in, src...)
		d.cond.Broadcast()
	}

	// Wait for the decode loop to exhaust the queued input.
	for !(d.starved && len(d.in) == 0) && d.decErr == nil {
		d.cond.Wait()
	}
	if d.decErr != nil {
		d.out = nil
		return nil, d.decErr
	}

	if maxOutput < 0 || maxOutput >= len(d.out) {
		res := d.out
		d.out = nil
		return res, nil
	}
	res := d.out[:maxOutput:maxOutput]
	d.out = d.out[maxOutput:]
	return res, nil
}

// NeedsInput reports whether another Decompress call needs fresh input to
// make progress.  It is false while bounded calls left decoded output
// undelivered.
func (d *Decompressor) NeedsInput() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.out) == 0
}

// AtFrameEdge reports whether the delivered output position sits exactly on
// a frame edge: every fully fed frame has been decoded and handed to the
// caller.  A freshly opened handle is at an edge.
func (d *Decompressor) AtFrameEdge() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.walker.atFrameBoundary() && len(d.out) == 0
}

// Close releases the codec context.  Closing twice fails with ErrState.
func (d *Decompressor) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("%w: decompressor already closed", ErrState)
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	<-d.done
	d.dec.Close()
	d.logger.Debug("decompressor closed")
	return nil
}
