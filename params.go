package zstdstream

import (
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Compression parameters accepted by this package.  Values travel on the
// codec's own scale: levels use the zstd 1..22 scale, window sizes are in
// bytes.
type cParam int

const (
	paramLevel cParam = iota
	paramWindowSize
	paramWorkers
)

// boundPolicy decides what happens to an out-of-range value.
type boundPolicy int

const (
	policyClamp boundPolicy = iota
	policyReject
)

type paramBound struct {
	name   string
	min    int
	max    int
	policy boundPolicy
}

// check validates v against the bound, clamping or rejecting per policy.
func (b paramBound) check(v int) (int, error) {
	if v >= b.min && v <= b.max {
		return v, nil
	}
	if b.policy == policyReject {
		return 0, fmt.Errorf("%w: %s %d outside [%d, %d]", ErrParameter, b.name, v, b.min, b.max)
	}
	if v < b.min {
		return b.min, nil
	}
	return b.max, nil
}

// The zstd scale end points.  The codec clamps levels through
// EncoderLevelFromZstd; the table makes the same range explicit so callers
// get deterministic behavior instead of a mapping detail.
const (
	minEncoderLevel = 1
	maxEncoderLevel = 22
)

var (
	paramTableOnce sync.Once
	paramTable     map[cParam]paramBound
)

// compressBounds returns the process-wide parameter table.  It is built once
// from the linked codec's reported limits and never mutated afterwards.
func compressBounds() map[cParam]paramBound {
	paramTableOnce.Do(func() {
		paramTable = map[cParam]paramBound{
			paramLevel: {
				name: "compression level", min: minEncoderLevel, max: maxEncoderLevel,
				policy: policyClamp,
			},
			paramWindowSize: {
				name: "window size", min: zstd.MinWindowSize, max: zstd.MaxWindowSize,
				policy: policyReject,
			},
			paramWorkers: {
				name: "worker count", min: 0, max: math.MaxInt32,
				policy: policyReject,
			},
		}
	})
	return paramTable
}
