//go:build !cgo

package zstdstream

import "fmt"

// buildDictionary reports the missing trainer capability on pure-Go builds.
func buildDictionary(samples [][]byte, targetSize int) ([]byte, error) {
	return nil, fmt.Errorf("%w: dictionary training requires the cgo trainer", ErrParameter)
}
