package zstdstream

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// frameWalker tracks frame boundaries on the compressed input side using
// only header arithmetic, the same walk FrameSize performs but incremental:
// bytes arrive in arbitrary slices and the walker remembers where inside
// the frame structure it stopped.  The streaming decompressor uses it to
// validate that input starts at a decodable boundary and to know when the
// consumed input ends exactly at a frame edge.
type frameWalker struct {
	state walkState
	// hold keeps bytes that do not yet complete the structure element the
	// walker is positioned on (partial frame or block header, partial
	// checksum).
	hold []byte
	// skip counts remaining content bytes of the current block or
	// skippable frame.
	skip int
	// skippingFrame distinguishes skippable-frame content from block
	// content while in walkSkip.
	skippingFrame bool
	// lastBlock marks the current block as the frame's last.
	lastBlock bool
	// hasChecksum mirrors the current frame's checksum flag.
	hasChecksum bool

	err error
}

type walkState int

const (
	// walkFrameStart expects a frame magic; with no held bytes this is a
	// frame boundary.
	walkFrameStart walkState = iota
	walkBlockHeader
	walkSkip
	walkChecksum
)

// atFrameBoundary reports whether every byte fed so far forms a whole
// number of complete frames.
func (w *frameWalker) atFrameBoundary() bool {
	return w.err == nil && w.state == walkFrameStart && len(w.hold) == 0
}

// feed advances the walk over data.  A structural violation is sticky: once
// reported, the walker stays failed.
func (w *frameWalker) feed(data []byte) error {
	if w.err != nil {
		return w.err
	}

	p := data
	if len(w.hold) > 0 {
		p = append(w.hold, data...)
		w.hold = nil
	}

	for len(p) > 0 {
		switch w.state {
		case walkFrameStart:
			var h zstd.Header
			if err := h.Decode(p); err != nil {
				if errors.Is(err, io.ErrUnexpectedEOF) && len(p) < zstd.HeaderMaxSize {
					return w.stash(p)
				}
				w.err = fmt.Errorf("%w: %s", ErrFormat, err)
				return w.err
			}
			p = p[h.HeaderSize:]
			if h.Skippable {
				w.skip = int(h.SkippableSize)
				w.skippingFrame = true
				w.state = walkSkip
				if w.skip == 0 {
					w.state = walkFrameStart
				}
			} else {
				w.hasChecksum = h.HasCheckSum
				w.state = walkBlockHeader
			}

		case walkBlockHeader:
			if len(p) < blockHeaderSize {
				return w.stash(p)
			}
			bh := uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16
			p = p[blockHeaderSize:]

			w.lastBlock = bh&1 != 0
			size := int(bh >> 3)
			switch (bh >> 1) & 3 {
			case blockTypeRLE:
				size = 1
			case blockTypeReserved:
				w.err = fmt.Errorf("%w: reserved block type", ErrFormat)
				return w.err
			}

			w.skip = size
			w.skippingFrame = false
			w.state = walkSkip
			if size == 0 {
				w.endOfContent()
			}

		case walkSkip:
			n := w.skip
			if n > len(p) {
				n = len(p)
			}
			p = p[n:]
			w.skip -= n
			if w.skip == 0 {
				w.endOfContent()
			}

		case walkChecksum:
			if len(p) < 4 {
				return w.stash(p)
			}
			p = p[4:]
			w.state = walkFrameStart
		}
	}
	return nil
}

// endOfContent moves the walk past the content just skipped.
func (w *frameWalker) endOfContent() {
	switch {
	case w.skippingFrame:
		w.state = walkFrameStart
	case !w.lastBlock:
		w.state = walkBlockHeader
	case w.hasChecksum:
		w.state = walkChecksum
	default:
		w.state = walkFrameStart
	}
}

// stash keeps an incomplete structure element until the next feed.  The
// slice may alias caller memory and is always copied.
func (w *frameWalker) stash(p []byte) error {
	w.hold = append(make([]byte, 0, len(p)), p...)
	return nil
}
