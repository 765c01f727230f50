package backup

import (
	"fmt"
	"os"
	"syscall"

	derrors "git.home.luguber.info/inful/runledger/internal/foundation/errors"
)

// checkFreeSpace refuses to start a backup when the target filesystem has
// less than the configured minimum available.
func (c *Controller) checkFreeSpace() error {
	min := c.cfg.Backup.MinFreeBytes
	if min <= 0 {
		return nil
	}

	if err := os.MkdirAll(c.cfg.Backup.Dir, 0o755); err != nil {
		return derrors.StorageError(fmt.Sprintf("create backup directory: %v", err)).WithCause(err).Build()
	}

	var st syscall.Statfs_t
	if err := syscall.Statfs(c.cfg.Backup.Dir, &st); err != nil {
		return derrors.StorageError(fmt.Sprintf("statfs %s: %v", c.cfg.Backup.Dir, err)).WithCause(err).Build()
	}

	free := int64(st.Bavail) * int64(st.Bsize)
	if free < min {
		return derrors.StorageError(fmt.Sprintf("insufficient free space for backup: %d bytes available, %d required", free, min)).
			WithContext("free_bytes", free).
			WithContext("min_free_bytes", min).Build()
	}
	return nil
}
