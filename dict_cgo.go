//go:build cgo

package zstdstream

import (
	"fmt"

	"github.com/valyala/gozstd"
)

// buildDictionary trains through the reference ZDICT implementation.
func buildDictionary(samples [][]byte, targetSize int) ([]byte, error) {
	blob := gozstd.BuildDict(samples, targetSize)
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: training failed, samples too few or too small", ErrParameter)
	}
	return blob, nil
}
