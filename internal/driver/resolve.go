package driver

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Resolve finds the executable for a sidecar command. A bare name is looked
// up next to the host executable first, where bundled sidecars are
// installed, and then on PATH. Names containing a path separator are used
// as given.
func Resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty command: %w", exec.ErrNotFound)
	}
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		if _, err := os.Stat(name); err != nil {
			return "", err
		}
		return name, nil
	}

	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), name)
		if runtime.GOOS == "windows" && filepath.Ext(candidate) == "" {
			candidate += ".exe"
		}
		if fi, err := os.Stat(candidate); err == nil && fi.Mode().IsRegular() {
			return candidate, nil
		}
	}

	return exec.LookPath(name)
}
