package mihomo

import (
	"errors"
	"os"
	"time"
)

// InstalledBinary describes the binary at the canonical path after install
type InstalledBinary struct {
	Path    string
	Tag     string
	SHA256  string
	Size    int64
	Version string
}

// Constants
const (
	ScratchPrefix    = "mihomo-installer"
	BinaryMode       = os.FileMode(0o755)
	ScratchDirMode   = os.FileMode(0o700)
	SmokeTestTimeout = 10 * time.Second
)

var (
	ErrDownloadFailed = errors.New("artifact download failed")
	ErrNotExecutable  = errors.New("artifact is not a usable x86-64 executable")
)
