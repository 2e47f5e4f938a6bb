package zstdstream

import (
	"encoding/binary"
	"fmt"
	"math"

	"go.uber.org/zap/zapcore"

	"github.com/Rogdham/zstdstream-go/env"
)

// The seekable archive is a sequence of ordinary zstd frames followed by
// one skippable frame holding the seek table:
//
//	|`Skippable_Magic_Number`|`Frame_Size`|`[Seek_Table_Entries]`|`Seek_Table_Footer`|
//	|------------------------|------------|----------------------|-------------------|
//	| 4 bytes                | 4 bytes    | 8-12 bytes each      | 9 bytes           |
//
// Decoders unaware of the extension skip the table and decode the archive
// as plain concatenated frames.
const (
	// Any value 0x184D2A50..0x184D2A5F identifies a skippable frame; the
	// seek table uses the 0xE tag.
	skippableFrameMagic uint32 = 0x184D2A50
	seekableTag         uint32 = 0xE

	seekableMagicNumber uint32 = 0x8F92EAB1

	seekTableFooterSize = 9

	frameSizeFieldSize            = 4
	skippableMagicNumberFieldSize = 4

	// maxDecoderFrameSize caps a single frame fetch, guarding against OOM
	// on untrusted seek tables.
	maxDecoderFrameSize = 128 << 20

	// Per-format limits: one frame and the frame count each fit a uint32.
	maxSeekableFrameSize int64 = math.MaxUint32
	maxNumberOfFrames    int64 = math.MaxUint32
)

/*
seekTableDescriptor is the Go view of the descriptor bitfield.

	| Bit number | Field name      |
	| ---------- | ----------      |
	| 7          | `Checksum_Flag` |
	| 6-2        | `Reserved_Bits` |
	| 1-0        | `Unused_Bits`   |

`Reserved_Bits` may carry breaking changes, so a compliant decoder rejects
nonzero values; `Unused_Bits` must stay uninterpreted.
*/
type seekTableDescriptor struct {
	// When set, every seek table entry carries a 4-byte checksum of the
	// frame's uncompressed data.
	ChecksumFlag bool
}

func (d *seekTableDescriptor) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddBool("ChecksumFlag", d.ChecksumFlag)
	return nil
}

/*
seekTableFooter terminates the archive:

	|`Number_Of_Frames`|`Seek_Table_Descriptor`|`Seekable_Magic_Number`|
	|------------------|-----------------------|-----------------------|
	| 4 bytes          | 1 byte                | 4 bytes               |
*/
type seekTableFooter struct {
	// Number of stored frames, the seek table frame excluded.
	NumberOfFrames uint32
	// Format of the seek table.
	SeekTableDescriptor seekTableDescriptor
	// Value: 0x8F92EAB1.
	SeekableMagicNumber uint32
}

func (f *seekTableFooter) marshalBinaryInline(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], f.NumberOfFrames)
	dst[4] = 0
	if f.SeekTableDescriptor.ChecksumFlag {
		dst[4] |= 1 << 7
	}
	binary.LittleEndian.PutUint32(dst[5:], seekableMagicNumber)
}

func (f *seekTableFooter) MarshalBinary() ([]byte, error) {
	dst := make([]byte, seekTableFooterSize)
	f.marshalBinaryInline(dst)
	return dst, nil
}

func (f *seekTableFooter) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint32("NumberOfFrames", f.NumberOfFrames)
	if err := enc.AddObject("SeekTableDescriptor", &f.SeekTableDescriptor); err != nil {
		return err
	}
	enc.AddUint32("SeekableMagicNumber", f.SeekableMagicNumber)
	return nil
}

func (f *seekTableFooter) UnmarshalBinary(p []byte) error {
	if len(p) != seekTableFooterSize {
		return fmt.Errorf("%w: footer length %d, want %d", ErrFormat, len(p), seekTableFooterSize)
	}
	reservedBits := (p[4] << 1) >> 3
	if reservedBits != 0 {
		return fmt.Errorf("%w: footer reserved bits %d != 0", ErrFormat, reservedBits)
	}
	f.NumberOfFrames = binary.LittleEndian.Uint32(p[0:])
	f.SeekTableDescriptor.ChecksumFlag = p[4]&(1<<7) > 0
	f.SeekableMagicNumber = binary.LittleEndian.Uint32(p[5:])
	if f.SeekableMagicNumber != seekableMagicNumber {
		return fmt.Errorf("%w: footer magic %#x, want %#x", ErrFormat, f.SeekableMagicNumber, seekableMagicNumber)
	}
	return nil
}

// entrySize returns the serialized size of one entry under this footer's
// descriptor.
func (f *seekTableFooter) entrySize() int64 {
	if f.SeekTableDescriptor.ChecksumFlag {
		return 12
	}
	return 8
}

/*
seekTableEntry describes one frame of the archive:

	|`Compressed_Size`|`Decompressed_Size`|`[Checksum]`|
	|-----------------|-------------------|------------|
	| 4 bytes         | 4 bytes           | 4 bytes    |

The cumulative sum of `Compressed_Size` of entries 0..i gives the physical
offset of frame i+1; the cumulative sum of `Decompressed_Size` gives its
logical offset.  `Checksum` is present only under the checksum flag and
holds the low 32 bits of the XXH64 digest of the uncompressed data.
*/
type seekTableEntry struct {
	CompressedSize   uint32
	DecompressedSize uint32
	Checksum         uint32
}

func (e *seekTableEntry) marshalBinaryInline(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], e.CompressedSize)
	binary.LittleEndian.PutUint32(dst[4:], e.DecompressedSize)
	binary.LittleEndian.PutUint32(dst[8:], e.Checksum)
}

func (e *seekTableEntry) MarshalBinary() ([]byte, error) {
	dst := make([]byte, 12)
	e.marshalBinaryInline(dst)
	return dst, nil
}

func (e *seekTableEntry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint32("CompressedSize", e.CompressedSize)
	enc.AddUint32("DecompressedSize", e.DecompressedSize)
	enc.AddUint32("Checksum", e.Checksum)
	return nil
}

func (e *seekTableEntry) UnmarshalBinary(p []byte) error {
	if len(p) < 8 {
		return fmt.Errorf("%w: entry length %d, want at least 8", ErrFormat, len(p))
	}
	e.CompressedSize = binary.LittleEndian.Uint32(p[0:])
	e.DecompressedSize = binary.LittleEndian.Uint32(p[4:])
	if len(p) >= 12 {
		e.Checksum = binary.LittleEndian.Uint32(p[8:])
	}
	return nil
}

// parseSeekTableEntries turns the serialized entry section into absolute
// frame offsets via prefix sums.  The section length must be a whole
// multiple of entrySize.
func parseSeekTableEntries(p []byte, entrySize int64) ([]*env.FrameOffsetEntry, error) {
	if int64(len(p))%entrySize != 0 {
		return nil, fmt.Errorf("%w: seek table size %d not a multiple of entry size %d",
			ErrFormat, len(p), entrySize)
	}

	entries := make([]*env.FrameOffsetEntry, 0, int64(len(p))/entrySize)
	var entry seekTableEntry
	var compOffset, decompOffset uint64
	for i := int64(0); i < int64(len(p)); i += entrySize {
		if err := entry.UnmarshalBinary(p[i : i+entrySize]); err != nil {
			return nil, err
		}
		entries = append(entries, &env.FrameOffsetEntry{
			ID:           int64(len(entries)),
			CompOffset:   compOffset,
			DecompOffset: decompOffset,
			CompSize:     entry.CompressedSize,
			DecompSize:   entry.DecompressedSize,
			Checksum:     entry.Checksum,
		})
		compOffset += uint64(entry.CompressedSize)
		decompOffset += uint64(entry.DecompressedSize)
	}
	return entries, nil
}

/*
createSkippableFrame wraps payload in a zstd skippable frame:

	| `Magic_Number` | `Frame_Size` | `User_Data` |
	|:--------------:|:------------:|:-----------:|
	|   4 bytes      |  4 bytes     |   n bytes   |

`Frame_Size` counts only `User_Data`, so the payload caps at 2^32-1 bytes.
An empty payload produces no frame at all.
*/
func createSkippableFrame(tag uint32, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	if tag > 0xf {
		return nil, fmt.Errorf("%w: skippable frame tag %#x > 0xf", ErrParameter, tag)
	}

	if int64(len(payload)) > maxSeekableFrameSize {
		return nil, fmt.Errorf("%w: skippable frame payload %d > max uint32", ErrParameter, len(payload))
	}

	dst := make([]byte, 8, len(payload)+8)
	binary.LittleEndian.PutUint32(dst[0:], skippableFrameMagic+tag)
	binary.LittleEndian.PutUint32(dst[4:], uint32(len(payload)))
	return append(dst, payload...), nil
}
