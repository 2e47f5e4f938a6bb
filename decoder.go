package zstdstream

import (
	"fmt"
	"io"

	"github.com/Rogdham/zstdstream-go/env"
)

// Decoder resolves logical positions against a detached seek table, for
// callers that fetch and decode frames through their own plumbing.
type Decoder interface {
	// GetIndexByDecompOffset returns the entry of the frame covering the
	// given decompressed offset, nil when out of range.
	GetIndexByDecompOffset(off uint64) *env.FrameOffsetEntry

	// GetIndexByID returns the entry of the id-th frame, nil when out of
	// range.
	GetIndexByID(id int64) *env.FrameOffsetEntry

	// Size returns the total decompressed size of the indexed stream.
	Size() int64

	// NumFrames returns the number of indexed frames.
	NumFrames() int64

	io.Closer
}

// decoderEnv serves the seek table from memory.  Frame content is not
// reachable through it, and the stream size is unknown, so the physical
// coverage check is skipped.
type decoderEnv struct {
	seekTable []byte
}

func (e *decoderEnv) GetFrameByIndex(index env.FrameOffsetEntry) ([]byte, error) {
	return nil, fmt.Errorf("%w: detached seek table holds no frame data", ErrState)
}

func (e *decoderEnv) ReadFooter() ([]byte, error) {
	return e.seekTable, nil
}

func (e *decoderEnv) ReadSkipFrame(skippableFrameOffset int64) ([]byte, error) {
	return e.seekTable, nil
}

func (e *decoderEnv) StreamSize() (int64, error) {
	return 0, nil
}

// NewDecoder parses a standalone seek table, as produced by
// Encoder.EndStream.
func NewDecoder(seekTable []byte, opts ...ROption) (Decoder, error) {
	opts = append(opts, WithREnvironment(&decoderEnv{seekTable: seekTable}))
	sr, err := NewReader(nil, opts...)
	if err != nil {
		return nil, err
	}
	return sr.(*readerImpl), nil
}

func (s *readerImpl) GetIndexByDecompOffset(off uint64) *env.FrameOffsetEntry {
	if off >= uint64(s.endOffset) {
		return nil
	}
	return s.indexByDecompOffset(off)
}

func (s *readerImpl) GetIndexByID(id int64) (found *env.FrameOffsetEntry) {
	if id < 0 {
		return nil
	}
	s.index.Ascend(func(i *env.FrameOffsetEntry) bool {
		if i.ID == id {
			found = i
			return false
		}
		return true
	})
	return
}

func (s *readerImpl) Size() int64 {
	return s.endOffset
}

func (s *readerImpl) NumFrames() int64 {
	return s.numFrames
}
