//go:build !windows

package daemon

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// deviceID returns st_dev for path so job moves can be checked for
// cross-device renames before the first job arrives.
func deviceID(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return uint64(st.Dev), nil
}
