package zstdstream

import (
	"encoding/binary"
	"fmt"
)

// dictionaryMagic marks a dictionary in the standard trained format; blobs
// without it are used as raw prefix content.
const dictionaryMagic uint32 = 0xEC30A437

// Dictionary is a shared, read-only trained blob referenced by compression
// and decompression handles.  It is never mutated after construction and
// may back any number of concurrently active handles; its lifecycle is
// independent of any single stream.
type Dictionary struct {
	data []byte
	id   uint32
}

// LoadDictionary copies data into a Dictionary.  Blobs in the standard
// trained format expose their 32-bit id; raw content dictionaries report
// id 0.
func LoadDictionary(data []byte) (*Dictionary, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty dictionary", ErrParameter)
	}
	d := &Dictionary{data: append([]byte(nil), data...)}
	if len(data) >= 8 && binary.LittleEndian.Uint32(data) == dictionaryMagic {
		d.id = binary.LittleEndian.Uint32(data[4:])
		if d.id == 0 {
			return nil, fmt.Errorf("%w: trained dictionary with id 0", ErrFormat)
		}
	}
	return d, nil
}

// ID returns the dictionary id, 0 for raw content.
func (d *Dictionary) ID() uint32 { return d.id }

// Bytes returns the dictionary blob.  Callers must treat it as read-only.
func (d *Dictionary) Bytes() []byte { return d.data }

// TrainDictionary builds a dictionary of about targetSize bytes from sample
// buffers.  Training is delegated to the linked trainer; builds without one
// fail with ErrParameter, as does sample material too small to train on.
func TrainDictionary(samples [][]byte, targetSize int) (*Dictionary, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrParameter)
	}
	if targetSize <= 0 {
		return nil, fmt.Errorf("%w: target size %d", ErrParameter, targetSize)
	}
	blob, err := buildDictionary(samples, targetSize)
	if err != nil {
		return nil, err
	}
	return LoadDictionary(blob)
}

// FinalizeDictionary tunes an existing dictionary against samples.  The
// bound trainer exposes training only, so the refusal is surfaced instead
// of silently retraining from scratch.
func FinalizeDictionary(base *Dictionary, samples [][]byte, targetSize, level int) (*Dictionary, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: nil dictionary", ErrParameter)
	}
	return nil, fmt.Errorf("%w: dictionary finalization is not supported by the linked trainer", ErrParameter)
}
