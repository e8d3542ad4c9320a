// Package mountctl manages the lifecycle of the FUSE mount point itself:
// detecting and clearing a stale mount left by a previous process, and
// unmounting cleanly on shutdown.
package mountctl

import (
	"fmt"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/ticpu/fuse-img2heic/internal/applog"
)

// IsStale reports whether mountPoint is a mount left over from a process
// that died without unmounting: the kernel answers any syscall against it
// with ENOTCONN once the FUSE server on the other end is gone. Statfs is
// used rather than Stat because it still returns ENOTCONN reliably even
// when the mount's root inode itself is uncached.
func IsStale(mountPoint string) bool {
	var st unix.Statfs_t
	err := unix.Statfs(mountPoint, &st)
	return err == unix.ENOTCONN
}

// ForceUnmount runs "fusermount -u" against mountPoint and returns any
// failure of that command as an error, including the case where nothing
// is mounted there.
func ForceUnmount(mountPoint string) error {
	cmd := exec.Command("fusermount", "-u", mountPoint)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mountctl: fusermount -u %s: %w: %s", mountPoint, err, out)
	}
	return nil
}

// EnsureClean clears any stale mount at mountPoint before the caller
// attempts a fresh mount there.
func EnsureClean(mountPoint string) error {
	if !IsStale(mountPoint) {
		return nil
	}
	applog.Infof(mountPoint, "mountctl: clearing stale mount from a previous run")
	return ForceUnmount(mountPoint)
}

// Unmount is the shutdown counterpart to EnsureClean: best-effort,
// logged, never fatal, since the process is exiting regardless.
func Unmount(mountPoint string) {
	if err := ForceUnmount(mountPoint); err != nil {
		applog.Errorf(mountPoint, "mountctl: unmount failed: %v", err)
	}
}
