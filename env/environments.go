// Package env declares the injection points the seekable reader and writer
// use to talk to backing storage, so callers with custom chunking or remote
// blobs can replace the plain ReadSeeker/Writer plumbing.
package env

// WEnvironment receives the writer's output.
type WEnvironment interface {
	// WriteFrame is called once per encoded frame, in stream order.
	WriteFrame(p []byte) (n int, err error)
	// WriteSeekTable is called exactly once, on Close, with the serialized
	// seek table frame.
	WriteSeekTable(p []byte) (n int, err error)
}

// REnvironment serves the reader's fetches.
type REnvironment interface {
	// GetFrameByIndex returns the compressed bytes of the indexed frame.
	GetFrameByIndex(index FrameOffsetEntry) ([]byte, error)
	// ReadFooter returns a buffer whose final 9 bytes are the seek table
	// footer.
	ReadFooter() ([]byte, error)
	// ReadSkipFrame returns the whole seek table skippable frame, magic
	// and frame size included, given its offset back from the stream end.
	ReadSkipFrame(skippableFrameOffset int64) ([]byte, error)
	// StreamSize returns the physical size of the stream in bytes, or 0
	// if the backing storage cannot tell.  A nonzero size lets the reader
	// cross-check the seek table against the stream it indexes.
	StreamSize() (int64, error)
}
