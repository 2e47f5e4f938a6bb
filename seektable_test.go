package zstdstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeekTableFooterParsing(t *testing.T) {
	var err error
	var stf seekTableFooter

	t.Parallel()

	// Checksum.
	err = stf.UnmarshalBinary([]byte{
		0x00, 0x00, 0x00, 0x00,
		1 << 7,
		0xb1, 0xea, 0x92, 0x8f,
	})
	require.NoError(t, err)
	assert.True(t, stf.SeekTableDescriptor.ChecksumFlag)
	assert.Equal(t, int64(12), stf.entrySize())

	// No checksum.
	err = stf.UnmarshalBinary([]byte{
		0x00, 0x00, 0x00, 0x00,
		0x00,
		0xb1, 0xea, 0x92, 0x8f,
	})
	require.NoError(t, err)
	assert.False(t, stf.SeekTableDescriptor.ChecksumFlag)
	assert.Equal(t, int64(8), stf.entrySize())

	// Unused bits are not interpreted.
	err = stf.UnmarshalBinary([]byte{
		0x00, 0x00, 0x00, 0x00,
		(1 << 7) + 0x01 + 0x2,
		0xb1, 0xea, 0x92, 0x8f,
	})
	require.NoError(t, err)

	// Reserved bits.
	err = stf.UnmarshalBinary([]byte{
		0x00, 0x00, 0x00, 0x00,
		0x84,
		0xb1, 0xea, 0x92, 0x8f,
	})
	require.ErrorContains(t, err, "footer reserved bits")
	require.ErrorIs(t, err, ErrFormat)
	err = stf.UnmarshalBinary([]byte{
		0x00, 0x00, 0x00, 0x00,
		0x80 + 0x40,
		0xb1, 0xea, 0x92, 0x8f,
	})
	require.ErrorContains(t, err, "footer reserved bits")

	// Size.
	err = stf.UnmarshalBinary([]byte{
		0xb1, 0xea, 0x92, 0x8f,
	})
	require.ErrorContains(t, err, "footer length")

	// Magic.
	err = stf.UnmarshalBinary([]byte{
		0x00, 0x00, 0x00, 0x00,
		0x80,
		0xea, 0x92, 0x8f, 0xb1,
	})
	require.ErrorContains(t, err, "footer magic")
}

func TestSeekTableFooterRoundTrip(t *testing.T) {
	t.Parallel()

	in := seekTableFooter{
		NumberOfFrames:      42,
		SeekTableDescriptor: seekTableDescriptor{ChecksumFlag: true},
		SeekableMagicNumber: seekableMagicNumber,
	}
	p, err := in.MarshalBinary()
	require.NoError(t, err)

	var out seekTableFooter
	require.NoError(t, out.UnmarshalBinary(p))
	assert.Equal(t, in, out)
}

func TestSeekTableEntryParsing(t *testing.T) {
	t.Parallel()

	table := []byte{
		0x11, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x39, 0x81, 0x67, 0xdb,
		0x12, 0x00, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00, 0x87, 0xeb, 0x11, 0x71,
	}

	entries, err := parseSeekTableEntries(table, 12)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, int64(0), entries[0].ID)
	assert.Equal(t, uint64(0), entries[0].CompOffset)
	assert.Equal(t, uint64(0), entries[0].DecompOffset)
	assert.Equal(t, uint32(0x11), entries[0].CompSize)
	assert.Equal(t, uint32(4), entries[0].DecompSize)
	assert.Equal(t, uint32(0xdb678139), entries[0].Checksum)

	assert.Equal(t, int64(1), entries[1].ID)
	assert.Equal(t, uint64(0x11), entries[1].CompOffset)
	assert.Equal(t, uint64(4), entries[1].DecompOffset)
	assert.Equal(t, uint32(0x12), entries[1].CompSize)
	assert.Equal(t, uint32(5), entries[1].DecompSize)

	// Without checksums the same prefix sums come out of 8-byte entries.
	entries, err = parseSeekTableEntries([]byte{
		0x11, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00,
		0x12, 0x00, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00,
	}, 8)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(0x11), entries[1].CompOffset)

	// Ragged section.
	_, err = parseSeekTableEntries(table[:13], 12)
	require.ErrorIs(t, err, ErrFormat)
}

func TestCreateSkippableFrame(t *testing.T) {
	t.Parallel()

	frame, err := createSkippableFrame(0xE, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x5e, 0x2a, 0x4d, 0x18,
		0x03, 0x00, 0x00, 0x00,
		'a', 'b', 'c',
	}, frame)

	// Empty payload produces no frame.
	frame, err = createSkippableFrame(0xE, nil)
	require.NoError(t, err)
	assert.Nil(t, frame)

	// Out-of-range tag.
	_, err = createSkippableFrame(0x10, []byte("abc"))
	require.ErrorIs(t, err, ErrParameter)
}

func FuzzSeekTableFooter(f *testing.F) {
	f.Add([]byte{0x02, 0x00, 0x00, 0x00, 0x80, 0xb1, 0xea, 0x92, 0x8f})
	f.Add([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0xb1, 0xea, 0x92, 0x8f})

	f.Fuzz(func(t *testing.T, data []byte) {
		var stf seekTableFooter
		if err := stf.UnmarshalBinary(data); err != nil {
			assert.ErrorIs(t, err, ErrFormat)
			return
		}
		p, err := stf.MarshalBinary()
		require.NoError(t, err)
		// Unused bits aside, the footer survives a round trip.
		var again seekTableFooter
		require.NoError(t, again.UnmarshalBinary(p))
		assert.Equal(t, stf, again)
	})
}
