package browser

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/Iron-Ham/browserfleet/internal/errors"
)

// candidates lists where Chrome-family browsers are installed, per GOOS, in
// probe order.
var candidates = map[string][]string{
	"darwin": {
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
		"/Applications/Google Chrome Canary.app/Contents/MacOS/Google Chrome Canary",
	},
	"linux": {
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
		"/snap/bin/chromium",
	},
	"windows": {
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		filepath.Join(os.Getenv("LOCALAPPDATA"), `Google\Chrome\Application\chrome.exe`),
	},
}

// ResolveExecutable returns configured if it names an executable file,
// otherwise the first installed candidate for this platform. It returns
// errors.ErrExecutableNotFound when nothing is found.
func ResolveExecutable(configured string) (string, error) {
	return resolveExecutable(configured, candidates[runtime.GOOS], isExecutable)
}

func resolveExecutable(configured string, probe []string, check func(string) bool) (string, error) {
	if configured != "" && check(configured) {
		return configured, nil
	}
	for _, path := range probe {
		if check(path) {
			return path, nil
		}
	}
	if configured != "" {
		return "", errors.Wrapf(errors.ErrExecutableNotFound, "%s", configured)
	}
	return "", errors.ErrExecutableNotFound
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
