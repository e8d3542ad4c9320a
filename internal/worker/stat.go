package worker

import "os"

// statSize returns the current byte length of the host file backing a
// conversion request; it is folded into the cache key so that editing a
// source file in place invalidates any cache entry keyed on its old size.
func statSize(hostPath string) (int64, error) {
	fi, err := os.Stat(hostPath)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
