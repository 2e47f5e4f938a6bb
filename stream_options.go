package zstdstream

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// COption configures a Compressor or a one-shot Compress call.
type COption func(*compressOptions) error

type compressOptions struct {
	logger     *zap.Logger
	level      int
	windowSize int
	workers    int
	checksum   bool
	dict       *Dictionary
}

func (o *compressOptions) setDefault() {
	*o = compressOptions{
		logger: zap.NewNop(),
		level:  defaultEncoderLevel,
	}
}

// defaultEncoderLevel matches the reference codec's default (zstd scale).
const defaultEncoderLevel = 3

// isDefault reports whether the options can be served by the shared encoder
// pool instead of a dedicated encoder.
func (o *compressOptions) isDefault() bool {
	return o.level == defaultEncoderLevel && o.windowSize == 0 &&
		o.workers == 0 && !o.checksum && o.dict == nil
}

// encoderOptions validates the parameter set against the bounds table and
// lowers it onto the codec's option vocabulary.
func (o *compressOptions) encoderOptions() ([]zstd.EOption, error) {
	table := compressBounds()

	level, err := table[paramLevel].check(o.level)
	if err != nil {
		return nil, err
	}
	opts := []zstd.EOption{
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithZeroFrames(true),
		zstd.WithEncoderCRC(o.checksum),
	}

	if o.windowSize != 0 {
		ws, err := table[paramWindowSize].check(o.windowSize)
		if err != nil {
			return nil, err
		}
		opts = append(opts, zstd.WithWindowSize(ws))
	}

	if o.workers != 0 {
		// Worker scheduling belongs to the codec; the count is forwarded
		// verbatim and its refusal is surfaced, never papered over.
		w, err := table[paramWorkers].check(o.workers)
		if err != nil {
			return nil, err
		}
		opts = append(opts, zstd.WithEncoderConcurrency(w))
	} else {
		opts = append(opts, zstd.WithEncoderConcurrency(1))
	}

	if o.dict != nil {
		opts = append(opts, zstd.WithEncoderDict(o.dict.Bytes()))
	}

	return opts, nil
}

// WithCompressionLevel sets the compression level on the zstd 1..22 scale.
// Out-of-range levels are clamped to the nearest bound.
func WithCompressionLevel(level int) COption {
	return func(o *compressOptions) error { o.level = level; return nil }
}

// WithWindowSize sets the compression window in bytes.  Values outside the
// codec's documented range are rejected.
func WithWindowSize(size int) COption {
	return func(o *compressOptions) error { o.windowSize = size; return nil }
}

// WithWorkers sets the number of codec-owned compression workers.  Zero
// selects the codec default; negative values are rejected.
func WithWorkers(n int) COption {
	return func(o *compressOptions) error { o.workers = n; return nil }
}

// WithFrameChecksum appends a content checksum to every closed frame.
func WithFrameChecksum(on bool) COption {
	return func(o *compressOptions) error { o.checksum = on; return nil }
}

// WithCompressDictionary compresses against a shared dictionary.
func WithCompressDictionary(d *Dictionary) COption {
	return func(o *compressOptions) error {
		if d == nil {
			return fmt.Errorf("%w: nil dictionary", ErrParameter)
		}
		o.dict = d
		return nil
	}
}

// WithCLogger sets the compressor logger.
func WithCLogger(l *zap.Logger) COption {
	return func(o *compressOptions) error { o.logger = l; return nil }
}

// DOption configures a Decompressor or a one-shot Decompress call.
type DOption func(*decompressOptions) error

type decompressOptions struct {
	logger    *zap.Logger
	dict      *Dictionary
	maxMemory uint64
	lowMem    bool
}

func (o *decompressOptions) setDefault() {
	*o = decompressOptions{
		logger: zap.NewNop(),
	}
}

func (o *decompressOptions) isDefault() bool {
	return o.dict == nil && o.maxMemory == 0 && !o.lowMem
}

func (o *decompressOptions) decoderOptions() []zstd.DOption {
	opts := []zstd.DOption{
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(o.lowMem),
	}
	if o.maxMemory != 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(o.maxMemory))
	}
	if o.dict != nil {
		opts = append(opts, zstd.WithDecoderDicts(o.dict.Bytes()))
	}
	return opts
}

// WithDecompressDictionary registers a shared dictionary for decompression.
func WithDecompressDictionary(d *Dictionary) DOption {
	return func(o *decompressOptions) error {
		if d == nil {
			return fmt.Errorf("%w: nil dictionary", ErrParameter)
		}
		o.dict = d
		return nil
	}
}

// WithMaxDecodedMemory caps the memory a single decode may claim.
func WithMaxDecodedMemory(n uint64) DOption {
	return func(o *decompressOptions) error { o.maxMemory = n; return nil }
}

// WithDecoderLowMem trades decode speed for smaller buffers.
func WithDecoderLowMem(on bool) DOption {
	return func(o *decompressOptions) error { o.lowMem = on; return nil }
}

// WithDLogger sets the decompressor logger.
func WithDLogger(l *zap.Logger) DOption {
	return func(o *decompressOptions) error { o.logger = l; return nil }
}
