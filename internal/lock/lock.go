// Package lock implements the single-writer guard: an advisory file lock
// plus a PID sidecar so a refusal can name the process that holds the
// database.
package lock

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"git.home.luguber.info/inful/runledger/internal/foundation/errors"
)

// Guard holds the exclusive lock for the lifetime of a writer process.
type Guard struct {
	fl      *flock.Flock
	pidPath string
}

// Acquire takes the exclusive lock at lockPath without blocking. If another
// process holds it, the returned error names the holder's PID when the
// sidecar file is readable.
func Acquire(lockPath string) (*Guard, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, errors.StorageError(fmt.Sprintf("create lock directory: %v", err)).WithCause(err).Build()
	}

	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errors.StorageError(fmt.Sprintf("acquire writer lock %s: %v", lockPath, err)).WithCause(err).Build()
	}
	if !locked {
		holder := readHolderPID(lockPath + ".pid")
		msg := "another instance holds the database writer lock"
		if holder != 0 {
			msg = fmt.Sprintf("another instance (pid %d) holds the database writer lock", holder)
		}
		return nil, errors.DaemonError(msg).WithContext("lock_path", lockPath).Build()
	}

	g := &Guard{fl: fl, pidPath: lockPath + ".pid"}
	if err := os.WriteFile(g.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		// The lock itself is authoritative; the sidecar only improves the
		// refusal message for the next contender.
		slog.Warn("failed to write lock PID sidecar",
			slog.String("path", g.pidPath), slog.String("error", err.Error()))
	}
	return g, nil
}

// Release drops the lock and removes the PID sidecar.
func (g *Guard) Release() error {
	if g == nil || g.fl == nil {
		return nil
	}
	_ = os.Remove(g.pidPath)
	if err := g.fl.Unlock(); err != nil {
		return fmt.Errorf("release writer lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (g *Guard) Path() string {
	return g.fl.Path()
}

func readHolderPID(pidPath string) int {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
