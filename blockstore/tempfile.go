package blockstore

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeBlockFile makes targetPath contain exactly data, or leaves the
// filesystem unchanged. The parent directory of targetPath must already
// exist.
//
// The exclusive-create of targetPath is the concurrency primitive: at most
// one caller can win it for a given path (I4). The temp-file-then-rename
// that follows is the durability primitive: a reader of targetPath never
// observes a partially written file (I2). Both steps are required.
func writeBlockFile(targetPath string, data []byte) error {
	target, err := os.OpenFile(targetPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		// Already-exists (and any other open failure) is surfaced unchanged;
		// the caller treats AlreadyExists as a dedup success.
		return err
	}

	tempPath := targetPath + ".tmp"
	if err := writeThroughTempfile(tempPath, targetPath, data); err != nil {
		if rmErr := os.Remove(targetPath); rmErr != nil {
			logger.Warnf("failed to remove partially written %s: %s", targetPath, rmErr)
		} else {
			logger.Debugf("removed partially written %s", targetPath)
		}
		target.Close()
		return err
	}

	return target.Close()
}

func writeThroughTempfile(tempPath, targetPath string, data []byte) (err error) {
	temp, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			// Best-effort: do not leave a half-written temp file behind.
			os.Remove(tempPath)
		}
	}()

	if _, err := temp.Write(data); err != nil {
		temp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := temp.Sync(); err != nil {
		temp.Close()
		return fmt.Errorf("fsyncing temp file: %w", err)
	}

	if err := temp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return fmt.Errorf("renaming temp file into place: %w", err)
	}

	return syncDir(targetPath)
}

// syncDir fsyncs the parent directory of path so that the rename performed
// by writeThroughTempfile is itself durable, not just the file it produced.
// spec.md flags this as a known gap in the reference design; it costs one
// extra open+fsync per block here and is worth paying.
func syncDir(path string) error {
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("opening parent directory for fsync: %w", err)
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		return fmt.Errorf("fsyncing parent directory: %w", err)
	}
	return nil
}
