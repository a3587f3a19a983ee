//go:build unix

package browser

import "golang.org/x/sys/unix"

// processAlive reports whether pid exists. Signal 0 performs the permission
// and existence checks without delivering anything; EPERM still means the
// process exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
