package zstdstream

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// frameHeaderMinSize is the smallest possible zstd frame header: magic plus
// descriptor plus a one-byte window descriptor.
const frameHeaderMinSize = 6

// FrameInfo reports the logical properties a frame header records about its
// payload, without decoding any of it.
type FrameInfo struct {
	// ContentSize is the decompressed size of the frame.  It is only
	// meaningful when HasContentSize is set; streams closed without a known
	// total do not record it.
	ContentSize uint64
	// HasContentSize reports whether the header carries the content size.
	HasContentSize bool

	// DictionaryID is the id of the dictionary the frame was compressed
	// against, or 0 when no dictionary was referenced.
	DictionaryID uint32

	// WindowSize is the window the decoder must provision for this frame.
	WindowSize uint64

	// HasChecksum reports whether the frame ends with a content checksum.
	HasChecksum bool

	// HeaderSize is the encoded size of the header itself.
	HeaderSize int

	// Skippable marks a metadata frame that carries no content.
	Skippable bool
}

// InspectFrame decodes the frame header at the start of src.  It fails with
// ErrFormat when fewer than frameHeaderMinSize bytes are supplied or the
// magic number does not match.
func InspectFrame(src []byte) (FrameInfo, error) {
	if len(src) < frameHeaderMinSize {
		return FrameInfo{}, fmt.Errorf("%w: frame header needs at least %d bytes, have %d",
			ErrFormat, frameHeaderMinSize, len(src))
	}

	var h zstd.Header
	if err := h.Decode(src); err != nil {
		return FrameInfo{}, fmt.Errorf("%w: %s", ErrFormat, err)
	}

	info := FrameInfo{
		DictionaryID: h.DictionaryID,
		WindowSize:   h.WindowSize,
		HasChecksum:  h.HasCheckSum,
		HeaderSize:   h.HeaderSize,
		Skippable:    h.Skippable,
	}
	if h.HasFCS {
		info.ContentSize = h.FrameContentSize
		info.HasContentSize = true
	}
	if h.SingleSegment {
		info.WindowSize = h.FrameContentSize
	}
	return info, nil
}

// Block header layout (little-endian uint24):
// bit 0 last-block flag, bits 1-2 block type, bits 3-23 block size.
const (
	blockTypeRaw = iota
	blockTypeRLE
	blockTypeCompressed
	blockTypeReserved

	blockHeaderSize = 3
)

// FrameSize walks the frame starting at src[0] and returns its total
// physical size, header and epilogue included.  Only header arithmetic is
// performed; nothing is decompressed.  The buffer must contain the complete
// frame, otherwise ErrFormat is returned.
func FrameSize(src []byte) (int, error) {
	var h zstd.Header
	if err := h.Decode(src); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrFormat, err)
	}
	n := h.HeaderSize

	if h.Skippable {
		if len(src)-n < int(h.SkippableSize) {
			return 0, fmt.Errorf("%w: skippable frame truncated at %d of %d content bytes",
				ErrFormat, len(src)-n, h.SkippableSize)
		}
		return n + int(h.SkippableSize), nil
	}

	for {
		if len(src)-n < blockHeaderSize {
			return 0, fmt.Errorf("%w: truncated block header at offset %d", ErrFormat, n)
		}
		bh := uint32(src[n]) | uint32(src[n+1])<<8 | uint32(src[n+2])<<16
		n += blockHeaderSize

		last := bh&1 != 0
		size := int(bh >> 3)
		switch (bh >> 1) & 3 {
		case blockTypeRaw, blockTypeCompressed:
		case blockTypeRLE:
			// RLE content is the single repeated byte.
			size = 1
		case blockTypeReserved:
			return 0, fmt.Errorf("%w: reserved block type at offset %d", ErrFormat, n-blockHeaderSize)
		}

		if len(src)-n < size {
			return 0, fmt.Errorf("%w: truncated block at offset %d", ErrFormat, n)
		}
		n += size
		if last {
			break
		}
	}

	if h.HasCheckSum {
		if len(src)-n < 4 {
			return 0, fmt.Errorf("%w: truncated content checksum at offset %d", ErrFormat, n)
		}
		n += 4
	}
	return n, nil
}
