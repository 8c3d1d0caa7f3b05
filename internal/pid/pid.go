// Package pid guards against running two bridges against the same watch.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/cgmbridge/internal/errors"
	"codeberg.org/mutker/cgmbridge/internal/logger"
)

const defaultName = "cgmbridge.pid"

type File struct {
	Path string
}

// New returns the PID file name in dir. An empty dir means os.TempDir and an
// empty name the default file name.
func New(dir, name string) File {
	if dir == "" {
		dir = os.TempDir()
	}
	if name == "" {
		name = defaultName
	}
	return File{Path: filepath.Join(dir, name)}
}

// Write writes the current process ID, failing when the recorded process is
// still alive. Unreadable PID files are treated as stale.
func (f File) Write() error {
	errFactory := errors.New()

	if bytes, err := os.ReadFile(f.Path); err == nil {
		pid, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
		if err != nil {
			logger.Warn().Str("path", f.Path).Msg("Replacing unreadable PID file")
		} else if running(pid) {
			return errFactory.WithData(errors.ErrAlreadyRunning, struct {
				PID  int
				Path string
			}{pid, f.Path})
		}
	} else if !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(f.Path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file.
func (f File) Remove() error {
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}

func running(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
