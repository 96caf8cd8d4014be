//go:build !linux && !darwin

package snapshot

import (
	"fmt"
	"os"
)

// openMmap always fails on platforms without a wired mmap path, so
// Open falls back to the buffered Source.
func openMmap(f *os.File, h Header) (Source, error) {
	return nil, fmt.Errorf("snapshot: mmap not supported on this platform")
}
