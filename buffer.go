package zstdstream

import "io"

// Output buffering for the streaming compressor comes in two flavours:
// a gradual chunk chain used as the encoder's sink, and a single
// worst-case-bound allocation for one-shot "rich memory" compression.

const (
	// First chunk of the gradual chain.  Small enough that a short stream
	// stays cheap, large enough that typical flushes fit in one chunk.
	initialChunkSize = 32 << 10

	// Chunks double until they reach this cap, bounding both the number of
	// allocations and the idle memory kept between flushes.
	maxChunkSize = 32 << 20
)

// chunkedBuffer accumulates compressed output as an ordered chain of chunks
// and joins them only when the caller takes the result.  The zero value is
// ready to use.
type chunkedBuffer struct {
	full []([]byte)
	cur  []byte
	size int
}

var _ io.Writer = (*chunkedBuffer)(nil)

func (b *chunkedBuffer) Write(p []byte) (int, error) {
	written := len(p)
	for len(p) > 0 {
		if len(b.cur) == cap(b.cur) {
			b.grow()
		}
		n := cap(b.cur) - len(b.cur)
		if n > len(p) {
			n = len(p)
		}
		b.cur = append(b.cur, p[:n]...)
		p = p[n:]
	}
	b.size += written
	return written, nil
}

func (b *chunkedBuffer) grow() {
	next := initialChunkSize
	if cap(b.cur) > 0 {
		b.full = append(b.full, b.cur)
		next = cap(b.cur) * 2
		if next > maxChunkSize {
			next = maxChunkSize
		}
	}
	b.cur = make([]byte, 0, next)
}

// Len returns the number of buffered bytes.
func (b *chunkedBuffer) Len() int { return b.size }

// take joins the chain into one exactly-sized slice and resets the buffer,
// keeping the current chunk's allocation for the next round.
func (b *chunkedBuffer) take() []byte {
	if b.size == 0 {
		return nil
	}
	out := make([]byte, 0, b.size)
	for _, c := range b.full {
		out = append(out, c...)
	}
	out = append(out, b.cur...)
	b.reset()
	return out
}

// reset discards buffered bytes without returning them.
func (b *chunkedBuffer) reset() {
	b.full = nil
	b.cur = b.cur[:0]
	b.size = 0
}

// compressBound is the codec's published worst-case compressed size for an
// input of n bytes (ZSTD_compressBound): n + n/256, plus a margin that
// tapers off as the input approaches one full block.
func compressBound(n int) int {
	margin := 0
	if n < 128<<10 {
		margin = ((128 << 10) - n) >> 11
	}
	return n + n>>8 + margin
}
