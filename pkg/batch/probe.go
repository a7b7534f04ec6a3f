package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const probePrefix = ".pdf-toolkit-probe-"

// WritableFunc is the signature of the writability probe, swappable in Options for tests.
type WritableFunc func(dir string) (bool, string)

// IsWritable verifies that dir accepts new files by creating and deleting a
// uniquely named probe file. Permission bits are not consulted. A directory that
// does not exist yet is probed at its nearest existing ancestor, so the check
// never creates directories.
func IsWritable(dir string) (bool, string) {
	target, err := nearestExisting(dir)
	if err != nil {
		return false, err.Error()
	}
	probe := filepath.Join(target, probePrefix+uuid.NewString())
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return false, fmt.Sprintf("cannot create files in '%s': %v", target, err)
	}
	closeErr := f.Close()
	removeErr := os.Remove(probe)
	if closeErr != nil {
		return false, fmt.Sprintf("cannot write files in '%s': %v", target, closeErr)
	}
	if removeErr != nil {
		return false, fmt.Sprintf("cannot delete files in '%s': %v", target, removeErr)
	}
	return true, ""
}

// nearestExisting walks up from dir until it finds an existing directory.
func nearestExisting(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("cannot resolve '%s': %w", dir, err)
	}
	for {
		info, statErr := os.Stat(abs)
		if statErr == nil {
			if !info.IsDir() {
				return "", fmt.Errorf("'%s' is not a directory", abs)
			}
			return abs, nil
		}
		if !errors.Is(statErr, fs.ErrNotExist) {
			return "", fmt.Errorf("cannot access '%s': %w", abs, statErr)
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("no existing ancestor for '%s'", dir)
		}
		abs = parent
	}
}
