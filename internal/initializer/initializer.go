package initializer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/huangyocai/mihomo-installer/internal/operations/common"
	"github.com/huangyocai/mihomo-installer/pkg/logger"
	"github.com/huangyocai/mihomo-installer/pkg/template"
)

const (
	ConfigDirMode = os.FileMode(0o755)
	EnvFileMode   = os.FileMode(0o600)
)

// Layout lists the host directories the installer writes into
type Layout struct {
	ConfigDir string
	BinaryDir string
	UnitDir   string
	EnvFile   string
}

type Initializer struct {
	Logger *logger.Logger
	layout Layout
}

func NewInitializer(layout Layout) *Initializer {
	return &Initializer{
		Logger: logger.NewLogger("initializer"),
		layout: layout,
	}
}

// EnsureLayout creates every directory the pipeline writes into
func (i *Initializer) EnsureLayout() error {
	for _, dir := range []string{i.layout.ConfigDir, i.layout.BinaryDir, i.layout.UnitDir} {
		if dir == "" {
			continue
		}
		pm := common.NewPermissionManager(dir, ConfigDirMode, 0, i.Logger.Entry())
		if err := pm.EnsureBaseDirectory(); err != nil {
			return err
		}
	}
	return nil
}

// PlaceEnvTemplate writes a commented sample env file if none exists. It
// reports whether a file was written.
func (i *Initializer) PlaceEnvTemplate() (bool, error) {
	path := i.layout.EnvFile
	if path == "" {
		return false, nil
	}

	if _, err := os.Stat(path); err == nil {
		i.Logger.Debugf("%s already exists, skipping", path)
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		i.Logger.Errorf("failed to check %s: %v", path, err)
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(path), ConfigDirMode); err != nil {
		return false, fmt.Errorf("failed to create env file directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(template.EnvFileTemplate), EnvFileMode); err != nil {
		i.Logger.Errorf("failed to write %s: %v", path, err)
		return false, err
	}

	i.Logger.Infof("Sample options written to %s", path)
	return true, nil
}
