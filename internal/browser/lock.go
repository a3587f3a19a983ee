package browser

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/browserfleet/internal/errors"
)

// Chrome's single-instance lock artifacts inside a profile directory. A crash
// leaves them behind and the next launch on the directory then refuses to
// start or hands off to a process that no longer exists.
const (
	LockFile   = "SingletonLock"
	LockSocket = "SingletonSocket"
	LockCookie = "SingletonCookie"
)

// LockArtifacts lists the lock artifact names in removal order.
var LockArtifacts = []string{LockFile, LockSocket, LockCookie}

// RemoveLockArtifacts deletes the lock artifacts from dir. Missing artifacts
// are not an error; the remaining failures are joined.
func RemoveLockArtifacts(fs afero.Fs, dir string) error {
	var errs []error
	for _, name := range LockArtifacts {
		if err := fs.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InUse reports whether a live browser holds the profile directory lock.
// Chrome writes SingletonLock as a symlink to "<hostname>-<pid>"; filesystems
// without symlinks fall back to reading the file content.
func InUse(fs afero.Fs, dir string) (int, bool) {
	path := filepath.Join(dir, LockFile)

	var target string
	if lr, ok := fs.(afero.LinkReader); ok {
		if t, err := lr.ReadlinkIfPossible(path); err == nil {
			target = t
		}
	}
	if target == "" {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return 0, false
		}
		target = string(data)
	}

	pid, ok := parseLockTarget(target)
	if !ok {
		return 0, false
	}
	return pid, processAlive(pid)
}

// parseLockTarget extracts the pid from "<hostname>-<pid>". Hostnames may
// themselves contain dashes.
func parseLockTarget(target string) (int, bool) {
	target = strings.TrimSpace(target)
	i := strings.LastIndex(target, "-")
	if i < 0 || i == len(target)-1 {
		return 0, false
	}
	pid, err := strconv.Atoi(target[i+1:])
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
