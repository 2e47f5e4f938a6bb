package zstdstream

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Encoder is the byte-oriented counterpart of Writer, for callers that own
// the output plumbing.
type Encoder interface {
	// Encode returns src compressed as one frame and appends its entry to
	// the in-memory seek table.
	Encode(src []byte) ([]byte, error)
	// EndStream returns the accumulated seek table as a skippable frame.
	EndStream() ([]byte, error)
}

// NewEncoder creates an Encoder that shares the Writer's configuration
// surface.
func NewEncoder(opts ...WOption) (Encoder, error) {
	sw := &writerImpl{once: &sync.Once{}}
	sw.o.setDefault()
	for _, o := range opts {
		if err := o(&sw.o); err != nil {
			return nil, err
		}
	}
	return sw, nil
}

func (s *writerImpl) Encode(src []byte) ([]byte, error) {
	if s.closed {
		return nil, fmt.Errorf("%w: encoder is closed", ErrState)
	}
	if len(src) == 0 {
		return nil, nil
	}

	dst, entry, err := s.encodeOne(src)
	if err != nil {
		return nil, err
	}

	s.o.logger.Debug("appending frame", zap.Object("frame", &entry))
	s.frameEntries = append(s.frameEntries, entry)
	return dst, nil
}

// EndStream serializes the seek table: entries in emission order, the
// 9-byte footer, all wrapped in a skippable frame an ordinary decoder
// ignores.
func (s *writerImpl) EndStream() ([]byte, error) {
	if int64(len(s.frameEntries)) > maxNumberOfFrames {
		return nil, fmt.Errorf("%w: too many frames for seekable format", ErrParameter)
	}

	seekTable := make([]byte, len(s.frameEntries)*12+seekTableFooterSize)
	for i, e := range s.frameEntries {
		e.marshalBinaryInline(seekTable[i*12 : (i+1)*12])
	}

	footer := seekTableFooter{
		NumberOfFrames: uint32(len(s.frameEntries)),
		SeekTableDescriptor: seekTableDescriptor{
			ChecksumFlag: true,
		},
		SeekableMagicNumber: seekableMagicNumber,
	}
	footer.marshalBinaryInline(seekTable[len(s.frameEntries)*12:])

	return createSkippableFrame(seekableTag, seekTable)
}
