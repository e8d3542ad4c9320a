//go:build !linux && !darwin

package cache

import (
	"os"
	"time"
)

// FileATime falls back to ModTime on platforms without a Stat_t atime
// field; eviction ordering degrades to modification order there.
func FileATime(fi os.FileInfo) time.Time {
	return fi.ModTime()
}
