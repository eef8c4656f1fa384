//go:build windows

package daemon

import (
	"fmt"
	"os"
	"path/filepath"
)

// deviceID approximates the device by volume name.
func deviceID(path string) (uint64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	var id uint64
	for _, c := range filepath.VolumeName(path) {
		id = id*31 + uint64(c)
	}
	return id, nil
}
