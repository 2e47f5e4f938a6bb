package zstdstream

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Rogdham/zstdstream-go/env"
)

// Reader is a random-access view over a seekable archive.  The logical
// positions it exposes are decompressed offsets; frames are decoded on
// demand, always from their start.
//
// A Reader serializes nothing internally: concurrent calls on one Reader
// require external synchronization, while separate Readers over the same
// storage are independent.
type Reader interface {
	io.ReadSeekCloser
	io.ReaderAt
}

// readerEnvImpl is the default environment over a plain io.ReadSeeker.
type readerEnvImpl struct {
	rs io.ReadSeeker
}

func (e *readerEnvImpl) GetFrameByIndex(index env.FrameOffsetEntry) ([]byte, error) {
	if index.CompSize > maxDecoderFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds the decoder limit",
			ErrFormat, index.CompSize)
	}
	if _, err := e.rs.Seek(int64(index.CompOffset), io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, index.CompSize)
	if _, err := io.ReadFull(e.rs, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (e *readerEnvImpl) ReadFooter() ([]byte, error) {
	if _, err := e.rs.Seek(-seekTableFooterSize, io.SeekEnd); err != nil {
		return nil, err
	}
	buf := make([]byte, seekTableFooterSize)
	if _, err := io.ReadFull(e.rs, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (e *readerEnvImpl) ReadSkipFrame(skippableFrameOffset int64) ([]byte, error) {
	if _, err := e.rs.Seek(-skippableFrameOffset, io.SeekEnd); err != nil {
		return nil, err
	}
	buf := make([]byte, skippableFrameOffset)
	if _, err := io.ReadFull(e.rs, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (e *readerEnvImpl) StreamSize() (int64, error) {
	return e.rs.Seek(0, io.SeekEnd)
}

type readerImpl struct {
	o readerOptions

	index     *btree.BTreeG[*env.FrameOffsetEntry]
	checksums bool
	numFrames int64

	offset    int64
	endOffset int64

	cache  *lru.Cache[uint64, []byte]
	closed bool
}

var _ Reader = (*readerImpl)(nil)

// NewReader opens a seekable archive for random access.  The seek table is
// read and validated up front: a corrupt footer, a damaged entry section,
// or a table inconsistent with the physical stream size aborts construction
// with ErrFormat instead of yielding a partial index.
func NewReader(rs io.ReadSeeker, opts ...ROption) (Reader, error) {
	sr := readerImpl{}

	sr.o.setDefault()
	for _, o := range opts {
		if err := o(&sr.o); err != nil {
			return nil, err
		}
	}

	if sr.o.env == nil {
		if rs == nil {
			return nil, fmt.Errorf("%w: no backing reader and no environment", ErrParameter)
		}
		sr.o.env = &readerEnvImpl{rs: rs}
	}

	cache, err := lru.New[uint64, []byte](sr.o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("%w: frame cache size %d", ErrParameter, sr.o.cacheSize)
	}
	sr.cache = cache

	if err := sr.readSeekTable(); err != nil {
		return nil, err
	}
	return &sr, nil
}

func (s *readerImpl) readSeekTable() error {
	footerBuf, err := s.o.env.ReadFooter()
	if err != nil {
		return fmt.Errorf("%w: failed to read footer: %s", ErrFormat, err)
	}
	if len(footerBuf) < seekTableFooterSize {
		return fmt.Errorf("%w: stream too short for a seek table footer", ErrFormat)
	}
	footerBuf = footerBuf[len(footerBuf)-seekTableFooterSize:]

	var footer seekTableFooter
	if err := footer.UnmarshalBinary(footerBuf); err != nil {
		return err
	}
	s.checksums = footer.SeekTableDescriptor.ChecksumFlag

	entrySize := footer.entrySize()
	tableLen := entrySize * int64(footer.NumberOfFrames)
	skippableFrameOffset := seekTableFooterSize + tableLen +
		frameSizeFieldSize + skippableMagicNumberFieldSize

	frame, err := s.o.env.ReadSkipFrame(skippableFrameOffset)
	if err != nil {
		return fmt.Errorf("%w: failed to read seek table frame: %s", ErrFormat, err)
	}
	if int64(len(frame)) < skippableFrameOffset {
		return fmt.Errorf("%w: seek table frame truncated: %d of %d bytes",
			ErrFormat, len(frame), skippableFrameOffset)
	}
	frame = frame[int64(len(frame))-skippableFrameOffset:]

	magic := binary.LittleEndian.Uint32(frame[0:])
	if magic != skippableFrameMagic+seekableTag {
		return fmt.Errorf("%w: skippable frame magic %#x, want %#x",
			ErrFormat, magic, skippableFrameMagic+seekableTag)
	}
	frameSize := int64(binary.LittleEndian.Uint32(frame[4:]))
	if frameSize != skippableFrameOffset-8 {
		return fmt.Errorf("%w: skippable frame size %d, want %d",
			ErrFormat, frameSize, skippableFrameOffset-8)
	}

	entries, err := parseSeekTableEntries(frame[8:8+tableLen], entrySize)
	if err != nil {
		return err
	}

	tree := btree.NewG[*env.FrameOffsetEntry](16, env.Less)
	for _, entry := range entries {
		s.endOffset = int64(entry.DecompOffset) + int64(entry.DecompSize)
		tree.ReplaceOrInsert(entry)
	}
	s.index = tree
	s.numFrames = int64(len(entries))

	// The index must describe exactly the stream it rides on: entries plus
	// the trailer must account for every physical byte.
	if size, err := s.o.env.StreamSize(); err == nil && size > 0 {
		var compTotal int64
		if len(entries) > 0 {
			last := entries[len(entries)-1]
			compTotal = int64(last.CompOffset) + int64(last.CompSize)
		}
		if compTotal+skippableFrameOffset != size {
			return fmt.Errorf("%w: seek table covers %d bytes of a %d byte stream",
				ErrFormat, compTotal+skippableFrameOffset, size)
		}
	}

	s.o.logger.Debug("seek table loaded",
		zap.Object("footer", &footer), zap.Int64("frames", s.numFrames))
	return nil
}

func (s *readerImpl) Read(dst []byte) (int, error) {
	if s.closed {
		return 0, fmt.Errorf("%w: reader is closed", ErrState)
	}
	if s.offset >= s.endOffset {
		return 0, io.EOF
	}
	n, err := s.readAt(dst, s.offset)
	s.offset += int64(n)
	return n, err
}

func (s *readerImpl) ReadAt(dst []byte, off int64) (int, error) {
	if s.closed {
		return 0, fmt.Errorf("%w: reader is closed", ErrState)
	}
	n, err := s.readAt(dst, off)
	if err == nil && n < len(dst) {
		err = io.EOF
	}
	return n, err
}

// readAt fills dst from logical offset off, crossing frames as needed.
func (s *readerImpl) readAt(dst []byte, off int64) (int, error) {
	var read int
	for len(dst) > 0 {
		if off >= s.endOffset {
			return read, io.EOF
		}

		index := s.indexByDecompOffset(uint64(off))
		if index == nil {
			return read, fmt.Errorf("%w: offset %d has no covering frame", ErrFormat, off)
		}

		decompressed, err := s.decodeFrame(index)
		if err != nil {
			return read, err
		}

		within := uint64(off) - index.DecompOffset
		n := copy(dst, decompressed[within:])
		read += n
		off += int64(n)
		dst = dst[n:]
	}
	return read, nil
}

// decodeFrame returns the decompressed content of the indexed frame,
// serving repeated hits from the LRU cache.
func (s *readerImpl) decodeFrame(index *env.FrameOffsetEntry) ([]byte, error) {
	if data, ok := s.cache.Get(index.CompOffset); ok {
		return data, nil
	}

	src, err := s.o.env.GetFrameByIndex(*index)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame at %d: %w", index.CompOffset, err)
	}

	decompressed, err := Decompress(src, s.o.dopts...)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress frame at %d: %w", index.CompOffset, err)
	}
	if uint64(len(decompressed)) != uint64(index.DecompSize) {
		return nil, fmt.Errorf("%w: frame at %d decodes to %d bytes, seek table says %d",
			ErrFormat, index.CompOffset, len(decompressed), index.DecompSize)
	}

	if s.checksums {
		checksum := uint32(xxhash.Sum64(decompressed))
		if index.Checksum != checksum {
			return nil, fmt.Errorf("%w: checksum mismatch at %d: expected %#x, actual %#x",
				ErrFormat, index.CompOffset, index.Checksum, checksum)
		}
	}

	s.cache.Add(index.CompOffset, decompressed)
	return decompressed, nil
}

func (s *readerImpl) indexByDecompOffset(off uint64) (found *env.FrameOffsetEntry) {
	s.index.DescendLessOrEqual(&env.FrameOffsetEntry{DecompOffset: off},
		func(i *env.FrameOffsetEntry) bool {
			found = i
			return false
		})
	return
}

func (s *readerImpl) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return 0, fmt.Errorf("%w: reader is closed", ErrState)
	}

	newOffset := s.offset
	switch whence {
	case io.SeekCurrent:
		newOffset += offset
	case io.SeekStart:
		newOffset = offset
	case io.SeekEnd:
		newOffset = s.endOffset + offset
	default:
		return 0, fmt.Errorf("%w: unknown whence %d", ErrParameter, whence)
	}

	if newOffset < 0 {
		return 0, fmt.Errorf("%w: offset before the start of the stream: %d (%d + %d)",
			ErrParameter, newOffset, s.offset, offset)
	}

	s.offset = newOffset
	return s.offset, nil
}

func (s *readerImpl) Close() error {
	if s.closed {
		return fmt.Errorf("%w: reader already closed", ErrState)
	}
	s.closed = true
	s.index.Clear(false)
	s.cache.Purge()
	return nil
}
