package zstdstream

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Failure classes surfaced by this package.  Every returned error wraps
// exactly one of these sentinels, so callers can dispatch with errors.Is
// without parsing messages.
var (
	// ErrParameter is returned when a parameter is outside its documented
	// bounds and the policy for it is to reject rather than clamp, or when
	// a capability is requested that the linked codec build does not have.
	ErrParameter = errors.New("zstdstream: invalid parameter")

	// ErrFormat is returned on malformed or truncated frames, bad magic
	// numbers, corrupt seek tables, and input that does not start at a
	// decodable boundary.
	ErrFormat = errors.New("zstdstream: invalid format")

	// ErrState is returned when operating on a closed handle.
	ErrState = errors.New("zstdstream: invalid stream state")

	// ErrCodec is returned when the underlying codec reports a failure
	// that is not a format violation, such as an exceeded internal limit.
	ErrCodec = errors.New("zstdstream: codec failure")
)

// classifyCodecError converts an error reported by the codec primitive into
// one of the package sentinels.  Structural damage maps to ErrFormat,
// resource and limit failures to ErrCodec.
func classifyCodecError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, zstd.ErrMagicMismatch),
		errors.Is(err, zstd.ErrReservedBlockType),
		errors.Is(err, zstd.ErrCompressedSizeTooBig),
		errors.Is(err, zstd.ErrBlockTooSmall),
		errors.Is(err, zstd.ErrUnexpectedBlockSize),
		errors.Is(err, zstd.ErrWindowSizeExceeded),
		errors.Is(err, zstd.ErrWindowSizeTooSmall),
		errors.Is(err, zstd.ErrUnknownDictionary),
		errors.Is(err, zstd.ErrFrameSizeMismatch),
		errors.Is(err, zstd.ErrCRCMismatch),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %s", ErrFormat, err)
	default:
		return fmt.Errorf("%w: %s", ErrCodec, err)
	}
}
