package zstdstream

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// One-shot entry points run in rich-memory mode: the output is a single
// allocation sized by the codec's worst-case bound, trimmed to the bytes
// actually produced.  Default-parameter calls reuse pooled coders, the
// same discipline the codec recommends for allocation-free operation.

var oneShotEncoders = sync.Pool{
	New: func() any {
		var o compressOptions
		o.setDefault()
		eopts, _ := o.encoderOptions()
		enc, err := zstd.NewWriter(nil, eopts...)
		if err != nil {
			panic(fmt.Sprintf("zstdstream: default encoder options rejected: %v", err))
		}
		return enc
	},
}

var oneShotDecoders = sync.Pool{
	New: func() any {
		var o decompressOptions
		o.setDefault()
		dec, err := zstd.NewReader(nil, o.decoderOptions()...)
		if err != nil {
			panic(fmt.Sprintf("zstdstream: default decoder options rejected: %v", err))
		}
		return dec
	},
}

// Compress compresses src into a single frame.
func Compress(src []byte, opts ...COption) ([]byte, error) {
	var o compressOptions
	o.setDefault()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	if o.workers > 1 {
		// The worst-case bound is not guaranteed across threaded job
		// splitting in every codec revision; the allocation still holds a
		// whole extra bound of slack, but the caller should know.
		o.logger.Warn("rich-memory compression with multiple workers",
			zap.Int("workers", o.workers))
	}

	dst := make([]byte, 0, compressBound(len(src)))

	if o.isDefault() {
		enc := oneShotEncoders.Get().(*zstd.Encoder)
		defer oneShotEncoders.Put(enc)
		return enc.EncodeAll(src, dst), nil
	}

	eopts, err := o.encoderOptions()
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, eopts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrParameter, err)
	}
	defer enc.Close()
	return enc.EncodeAll(src, dst), nil
}

// Decompress decompresses one or more complete frames.  Unlike the
// streaming Decompressor, which tolerates empty feeds, the single-pass
// entry point has no prior stream state: zero-length input cannot be a
// valid frame and fails with ErrFormat.
func Decompress(src []byte, opts ...DOption) ([]byte, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("%w: empty input is not a frame", ErrFormat)
	}

	var o decompressOptions
	o.setDefault()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	var dec *zstd.Decoder
	if o.isDefault() {
		dec = oneShotDecoders.Get().(*zstd.Decoder)
		defer oneShotDecoders.Put(dec)
	} else {
		var err error
		dec, err = zstd.NewReader(nil, o.decoderOptions()...)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrParameter, err)
		}
		defer dec.Close()
	}

	out, err := dec.DecodeAll(src, nil)
	if err != nil {
		return nil, classifyCodecError(err)
	}
	return out, nil
}
