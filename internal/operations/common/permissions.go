package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// PermissionManager manages directory and file permissions under a base directory
type PermissionManager struct {
	BaseDir  string
	DirPerm  os.FileMode
	FilePerm os.FileMode
	Logger   *logrus.Entry
}

// NewPermissionManager creates a new PermissionManager with the given configuration
func NewPermissionManager(baseDir string, dirPerm, filePerm os.FileMode, logger *logrus.Entry) *PermissionManager {
	return &PermissionManager{
		BaseDir:  baseDir,
		DirPerm:  dirPerm,
		FilePerm: filePerm,
		Logger:   logger,
	}
}

// EnsureBaseDirectory creates the base directory if it doesn't exist
func (pm *PermissionManager) EnsureBaseDirectory() error {
	pm.Logger.WithField("base_dir", pm.BaseDir).Debug("Ensuring base directory exists")

	if err := os.MkdirAll(pm.BaseDir, pm.DirPerm); err != nil {
		pm.Logger.WithError(err).Error("Failed to create base directory")
		return fmt.Errorf("failed to create base directory: %w", err)
	}

	return nil
}

// CreateDirectory creates name under the base directory. With exclusive set
// an existing directory is an error, which keeps per-run scratch space private.
func (pm *PermissionManager) CreateDirectory(name string, exclusive bool) (string, error) {
	dir := filepath.Join(pm.BaseDir, name)

	pm.Logger.WithField("dir", dir).Debug("Creating directory")

	if exclusive {
		if err := os.Mkdir(dir, pm.DirPerm); err != nil {
			pm.Logger.WithError(err).Error("Failed to create directory")
			return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		return dir, nil
	}

	if err := os.MkdirAll(dir, pm.DirPerm); err != nil {
		pm.Logger.WithError(err).Error("Failed to create directory")
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	return dir, nil
}

// SetBinaryPermissions sets proper permissions for a binary file
func (pm *PermissionManager) SetBinaryPermissions(binaryPath string) error {
	pm.Logger.WithField("path", binaryPath).Debug("Setting binary permissions")

	if err := os.Chmod(binaryPath, pm.FilePerm); err != nil {
		pm.Logger.WithError(err).Error("Failed to set binary permissions")
		return fmt.Errorf("failed to set permissions for %s: %w", binaryPath, err)
	}

	return nil
}
