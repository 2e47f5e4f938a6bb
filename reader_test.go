package zstdstream

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rogdham/zstdstream-go/env"
)

const sourceString = "testtest2"

// Same archive as seekableArchive with the checksum column dropped from the
// seek table.
var seekableArchiveNoChecksum = []byte{
	// frame 1
	0x28, 0xb5, 0x2f, 0xfd, 0x04, 0x00, 0x21, 0x00, 0x00,
	// "test"
	0x74, 0x65, 0x73, 0x74,
	0x39, 0x81, 0x67, 0xdb,
	// frame 2
	0x28, 0xb5, 0x2f, 0xfd, 0x04, 0x00, 0x29, 0x00, 0x00,
	// "test2"
	0x74, 0x65, 0x73, 0x74, 0x32,
	0x87, 0xeb, 0x11, 0x71,
	// skippable frame
	0x5e, 0x2a, 0x4d, 0x18,
	0x19, 0x00, 0x00, 0x00,
	// index
	0x11, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00,
	0x12, 0x00, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00,
	// footer
	0x02, 0x00, 0x00, 0x00,
	0x00,
	0xb1, 0xea, 0x92, 0x8f,
}

type seekableBufferReader struct {
	buf    []byte
	offset int64
}

func (s *seekableBufferReader) Read(p []byte) (n int, err error) {
	size := int64(len(s.buf)) - s.offset
	if size > int64(len(p)) {
		size = int64(len(p))
	}

	if s.offset > int64(len(s.buf)) {
		return 0, io.EOF
	}

	copy(p, s.buf[s.offset:s.offset+size])

	s.offset += size
	return int(size), nil
}

func (s *seekableBufferReader) Seek(offset int64, whence int) (int64, error) {
	newOffset := s.offset
	switch whence {
	case io.SeekCurrent:
		newOffset += offset
	case io.SeekStart:
		newOffset = offset
	case io.SeekEnd:
		newOffset = int64(len(s.buf)) + offset
	}

	if newOffset < 0 {
		return 0, fmt.Errorf("offset before the start of the file: %d (%d + %d)",
			newOffset, s.offset, offset)
	}

	s.offset = newOffset
	return s.offset, nil
}

func TestSeekableReader(t *testing.T) {
	t.Parallel()

	for _, b := range [][]byte{seekableArchive, seekableArchiveNoChecksum} {
		br := &seekableBufferReader{buf: b}
		r, err := NewReader(br)
		require.NoError(t, err)

		sr := r.(*readerImpl)
		assert.Equal(t, int64(9), sr.endOffset)
		assert.Equal(t, 2, sr.index.Len())
		assert.Equal(t, int64(0), sr.offset)

		bytes1 := []byte("test")
		bytes2 := []byte("test2")

		tmp := make([]byte, 4096)
		n, err := r.Read(tmp)
		require.NoError(t, err)
		assert.Equal(t, len(bytes1), n)
		assert.Equal(t, bytes1, tmp[:n])

		assert.Equal(t, int64(n), sr.offset)

		data1, ok := sr.cache.Get(0)
		assert.True(t, ok)
		assert.Equal(t, bytes1, data1)

		m, err := r.Read(tmp)
		require.NoError(t, err)
		assert.Equal(t, len(bytes2), m)
		assert.Equal(t, bytes2, tmp[:m])

		assert.Equal(t, int64(n)+int64(m), sr.offset)

		// Default cache holds a single frame.
		data2, ok := sr.cache.Get(0x11)
		assert.True(t, ok)
		assert.Equal(t, bytes2, data2)
		_, ok = sr.cache.Get(0)
		assert.False(t, ok)

		_, err = r.Read(tmp)
		require.ErrorIs(t, err, io.EOF)

		err = r.Close()
		require.NoError(t, err)

		// read after close
		_, err = r.Read(tmp)
		require.ErrorIs(t, err, ErrState)

		// double close
		err = r.Close()
		require.ErrorIs(t, err, ErrState)
	}
}

func TestSeekableReaderEdges(t *testing.T) {
	source := []byte(sourceString)
	for i, b := range [][]byte{seekableArchive, seekableArchiveNoChecksum} {
		i := i
		b := b
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			t.Parallel()

			sr := &seekableBufferReader{buf: b}
			r, err := NewReader(sr, WithFrameCache(2))
			require.NoError(t, err)
			defer func() { require.NoError(t, r.Close()) }()

			for _, whence := range []int{io.SeekStart, io.SeekEnd} {
				for n := int64(-1); n <= int64(len(source))+1; n++ {
					for m := int64(0); m <= int64(len(source))+1; m++ {
						var j int64
						switch whence {
						case io.SeekStart:
							j, err = r.Seek(n, whence)
						case io.SeekEnd:
							j, err = r.Seek(int64(-len(source))+n, whence)
						}
						if n < 0 {
							require.Error(t, err)
							continue
						}
						require.NoError(t, err)
						assert.Equal(t, n, j)

						tmp := make([]byte, m)
						k, err := r.Read(tmp)
						if n >= int64(len(source)) {
							require.ErrorIsf(t, err, io.EOF,
								"%d: should return EOF at %d, len(source): %d, len(tmp): %d, k: %d, whence: %d",
								i, n, len(source), m, k, whence)
							continue
						}
						require.NoErrorf(t, err,
							"%d: should NOT return EOF at %d, len(source): %d, len(tmp): %d, k: %d, whence: %d",
							i, n, len(source), m, k, whence)

						assert.Equal(t, source[n:n+int64(k)], tmp[:k])
					}
				}
			}
		})
	}
}

// ReadAt is stricter than Read: when it returns n < len(p), the error says
// why more bytes were not returned.
func TestSeekableReaderAt(t *testing.T) {
	t.Parallel()

	sr := &seekableBufferReader{buf: seekableArchiveNoChecksum}
	r, err := NewReader(sr)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	oldOffset, err := r.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(0), oldOffset)

	tmp1 := make([]byte, 3)
	k1, err := r.ReadAt(tmp1, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, k1)
	assert.Equal(t, []byte("tte"), tmp1)

	// ReadAt must not move nor depend on the seek offset.
	newOffset, err := r.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, newOffset, oldOffset)

	tmp2 := make([]byte, 100)
	k2, err := r.ReadAt(tmp2, 3)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 6, k2)
	assert.Equal(t, []byte("ttest2"), tmp2[:k2])

	tmpLast := make([]byte, 1)
	kLast, err := r.ReadAt(tmpLast, 8)
	require.NoError(t, err)
	assert.Equal(t, 1, kLast)
	assert.Equal(t, []byte("2"), tmpLast)

	tmpOOB := make([]byte, 1)
	_, err = r.ReadAt(tmpOOB, 9)
	require.ErrorIs(t, err, io.EOF)

	sectionReader := io.NewSectionReader(r, 3, 4)
	tmp3, err := io.ReadAll(sectionReader)
	require.NoError(t, err)
	assert.Len(t, tmp3, 4)
	assert.Equal(t, []byte("ttes"), tmp3)
}

func TestSeekableReaderSeek(t *testing.T) {
	t.Parallel()

	sr := &seekableBufferReader{buf: seekableArchive}
	r, err := NewReader(sr)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	tmp := make([]byte, 4096)
	n, err := r.Read(tmp)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("test"), tmp[:n])

	m, err := r.Seek(1, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(5), m)

	n, err = r.Read(tmp)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("est2"), tmp[:n])

	_, err = r.Seek(-1, io.SeekStart)
	require.ErrorIs(t, err, ErrParameter)

	_, err = r.Seek(0, 9999)
	require.ErrorIs(t, err, ErrParameter)

	// Seeking past the end is legal; the read reports EOF.
	_, err = r.Seek(999, io.SeekStart)
	require.NoError(t, err)
	_, err = r.Read(tmp)
	require.ErrorIs(t, err, io.EOF)
}

type fakeReadEnvironment struct{}

func (s *fakeReadEnvironment) GetFrameByIndex(index env.FrameOffsetEntry) ([]byte, error) {
	switch index.ID {
	case 0:
		return seekableArchive[:17], nil
	case 1:
		return seekableArchive[17 : 17+18], nil
	default:
		return nil, fmt.Errorf("unknown index: %d, %+v", index.ID, index)
	}
}

func (s *fakeReadEnvironment) ReadFooter() ([]byte, error) {
	return seekableArchive[len(seekableArchive)-seekTableFooterSize:], nil
}

func (s *fakeReadEnvironment) ReadSkipFrame(skippableFrameOffset int64) ([]byte, error) {
	return seekableArchive[len(seekableArchive)-int(skippableFrameOffset):], nil
}

func (s *fakeReadEnvironment) StreamSize() (int64, error) {
	return int64(len(seekableArchive)), nil
}

func TestReadEnvironment(t *testing.T) {
	t.Parallel()

	r, err := NewReader(nil, WithREnvironment(&fakeReadEnvironment{}))
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	bytes1 := []byte("test")
	bytes2 := []byte("test2")

	tmp := make([]byte, 4096)
	n, err := r.Read(tmp)
	require.NoError(t, err)
	assert.Equal(t, len(bytes1), n)
	assert.Equal(t, bytes1, tmp[:n])

	m, err := r.Read(tmp)
	require.NoError(t, err)
	assert.Equal(t, len(bytes2), m)
	assert.Equal(t, bytes2, tmp[:m])

	_, err = r.Read(tmp)
	require.ErrorIs(t, err, io.EOF)
}

func TestNilReaderNoEnvironment(t *testing.T) {
	t.Parallel()

	r, err := NewReader(nil)
	require.ErrorIs(t, err, ErrParameter)
	assert.Nil(t, r)
}

func TestSeekableReaderCorruptArchive(t *testing.T) {
	t.Parallel()

	corrupt := func(mutate func([]byte)) []byte {
		b := append([]byte(nil), seekableArchive...)
		mutate(b)
		return b
	}

	t.Run("truncated footer", func(t *testing.T) {
		t.Parallel()
		_, err := NewReader(&seekableBufferReader{buf: seekableArchive[:5]})
		require.ErrorIs(t, err, ErrFormat)
	})

	t.Run("bad footer magic", func(t *testing.T) {
		t.Parallel()
		b := corrupt(func(b []byte) { b[len(b)-1] ^= 0xff })
		_, err := NewReader(&seekableBufferReader{buf: b})
		require.ErrorIs(t, err, ErrFormat)
	})

	t.Run("bad skippable magic", func(t *testing.T) {
		t.Parallel()
		b := corrupt(func(b []byte) { b[35] ^= 0xff })
		_, err := NewReader(&seekableBufferReader{buf: b})
		require.ErrorIs(t, err, ErrFormat)
	})

	t.Run("missing frame bytes", func(t *testing.T) {
		t.Parallel()
		// Drop a byte from the frame section: the seek table no longer
		// covers the physical stream.
		b := append(append([]byte(nil), seekableArchive[:10]...), seekableArchive[11:]...)
		_, err := NewReader(&seekableBufferReader{buf: b})
		require.ErrorIs(t, err, ErrFormat)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		t.Parallel()
		// Flip a stored checksum byte; construction succeeds, the read of
		// that frame fails.
		b := corrupt(func(b []byte) { b[43+8] ^= 0xff })
		r, err := NewReader(&seekableBufferReader{buf: b})
		require.NoError(t, err)
		defer func() { require.NoError(t, r.Close()) }()

		tmp := make([]byte, 16)
		_, err = r.Read(tmp)
		require.ErrorIs(t, err, ErrFormat)
	})

	t.Run("checksum ignored without flag", func(t *testing.T) {
		t.Parallel()
		// The no-checksum table has no stored digests to verify against.
		r, err := NewReader(&seekableBufferReader{buf: seekableArchiveNoChecksum})
		require.NoError(t, err)
		defer func() { require.NoError(t, r.Close()) }()

		out, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, []byte(sourceString), out)
	})
}

func TestSeekableReaderFrameCache(t *testing.T) {
	t.Parallel()

	sr := &seekableBufferReader{buf: seekableArchive}
	r, err := NewReader(sr, WithFrameCache(2))
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	impl := r.(*readerImpl)

	var out bytes.Buffer
	_, err = io.Copy(&out, r)
	require.NoError(t, err)
	assert.Equal(t, sourceString, out.String())

	// Both frames fit; alternating reads hit the cache.
	assert.Equal(t, 2, impl.cache.Len())
	for i := 0; i < 4; i++ {
		tmp := make([]byte, 2)
		_, err = r.ReadAt(tmp, int64(4*(i%2)))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, impl.cache.Len())

	_, err = NewReader(&seekableBufferReader{buf: seekableArchive}, WithFrameCache(0))
	require.ErrorIs(t, err, ErrParameter)
}

func TestEmptyWriteRead(t *testing.T) {
	t.Parallel()

	var b bytes.Buffer
	w, err := NewWriter(&b)
	require.NoError(t, err)

	n, err := w.Write([]byte{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, w.Close())

	// The archive is only a seek table; reads see an empty stream.
	r, err := NewReader(&seekableBufferReader{buf: b.Bytes()})
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	tmp := make([]byte, 1)
	k, err := r.Read(tmp)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 0, k)
}
