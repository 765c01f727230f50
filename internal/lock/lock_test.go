package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "db", ".runledger.lock")

	g, err := Acquire(lockPath)
	require.NoError(t, err)
	assert.Equal(t, lockPath, g.Path())

	data, err := os.ReadFile(lockPath + ".pid")
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, g.Release())
	_, err = os.Stat(lockPath + ".pid")
	assert.True(t, os.IsNotExist(err))
}

func TestReacquireAfterRelease(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".runledger.lock")

	g1, err := Acquire(lockPath)
	require.NoError(t, err)
	require.NoError(t, g1.Release())

	g2, err := Acquire(lockPath)
	require.NoError(t, err)
	require.NoError(t, g2.Release())
}

func TestAcquireSurvivesSidecarWriteFailure(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".runledger.lock")
	// A directory at the sidecar path makes the PID write fail; the lock
	// itself must still be taken.
	require.NoError(t, os.MkdirAll(lockPath+".pid", 0o755))

	g, err := Acquire(lockPath)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, lockPath, g.Path())
	require.NoError(t, g.Release())
}

func TestReleaseNilGuard(t *testing.T) {
	var g *Guard
	assert.NoError(t, g.Release())
}
