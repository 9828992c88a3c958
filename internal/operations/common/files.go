package common

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/huangyocai/mihomo-installer/pkg/models"
)

// WriteFileAtomic writes r to a temporary sibling of path and renames it into
// place, so readers see either the old or the new content.
func WriteFileAtomic(path string, r io.Reader, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}

	committed = true
	return nil
}

// BackupName returns the timestamped sibling name used for backups of path.
func BackupName(path string, now time.Time) string {
	return path + ".bak." + now.Format(models.BackupTimeFormat)
}

// BackupFile copies path to a timestamped sibling, preserving mode,
// ownership and timestamps. It returns "" when path does not exist.
// A backup taken in the same second as an earlier one gets a numeric suffix.
func BackupFile(logger *logrus.Entry, path string, now time.Time) (string, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		if err == unix.ENOENT {
			return "", nil
		}
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}

	backup := BackupName(path, now)
	for i := 1; ; i++ {
		if _, err := os.Lstat(backup); os.IsNotExist(err) {
			break
		}
		backup = fmt.Sprintf("%s.%d", BackupName(path, now), i)
	}

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	mode := os.FileMode(st.Mode & 0o7777)
	dst, err := os.OpenFile(backup, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode.Perm())
	if err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(backup)
		return "", fmt.Errorf("failed to copy backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(backup)
		return "", fmt.Errorf("failed to close backup: %w", err)
	}

	// OpenFile is subject to umask
	if err := os.Chmod(backup, mode); err != nil {
		logger.WithError(err).Warn("Failed to preserve backup mode")
	}
	if err := os.Lchown(backup, int(st.Uid), int(st.Gid)); err != nil {
		logger.WithError(err).Debug("Failed to preserve backup ownership")
	}
	atime := time.Unix(st.Atim.Unix())
	mtime := time.Unix(st.Mtim.Unix())
	if err := os.Chtimes(backup, atime, mtime); err != nil {
		logger.WithError(err).Warn("Failed to preserve backup timestamps")
	}

	logger.WithFields(logrus.Fields{
		"path":   path,
		"backup": backup,
	}).Info("Backed up existing file")

	return backup, nil
}

// ListBackups returns the backups of path, oldest first
func ListBackups(path string) ([]string, error) {
	dir := filepath.Dir(path)
	prefix := filepath.Base(path) + ".bak."

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	backups := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		backups = append(backups, filepath.Join(dir, entry.Name()))
	}

	sort.Strings(backups)
	return backups, nil
}
