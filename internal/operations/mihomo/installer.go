package mihomo

import (
	"context"
	"crypto"
	_ "crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/sirupsen/logrus"

	"github.com/huangyocai/mihomo-installer/internal/cmdrunner"
	"github.com/huangyocai/mihomo-installer/internal/operations/common"
	"github.com/huangyocai/mihomo-installer/internal/operations/release"
)

type Installer struct {
	downloader   *Downloader
	scratch      *common.PermissionManager
	runner       cmdrunner.CommandRunner
	binaryPath   string
	smokeTimeout time.Duration
	logger       *logrus.Entry
}

func NewInstaller(downloader *Downloader, runner cmdrunner.CommandRunner, scratchRoot, binaryPath string) *Installer {
	return &Installer{
		downloader:   downloader,
		scratch:      NewScratchManager(scratchRoot),
		runner:       runner,
		binaryPath:   binaryPath,
		smokeTimeout: SmokeTestTimeout,
		logger:       logrus.WithField("component", "mihomo-installer"),
	}
}

// ScratchDirName is unique per process
func ScratchDirName() string {
	return fmt.Sprintf("%s-%d", ScratchPrefix, os.Getpid())
}

// Install downloads the artifact, verifies it and swaps it into the
// canonical binary path. Scratch files are removed on every path.
func (i *Installer) Install(ctx context.Context, artifact release.SelectedArtifact) (InstalledBinary, error) {
	i.logger.WithFields(logrus.Fields{
		"asset": artifact.Asset.Name,
		"tag":   artifact.Tag,
		"dest":  i.binaryPath,
	}).Info("Installing mihomo binary")

	result := InstalledBinary{Path: i.binaryPath, Tag: artifact.Tag}

	if err := i.scratch.EnsureBaseDirectory(); err != nil {
		return result, err
	}

	// Leftovers from a crashed run with a recycled pid
	os.RemoveAll(filepath.Join(i.scratch.BaseDir, ScratchDirName()))
	scratchDir, err := i.scratch.CreateDirectory(ScratchDirName(), true)
	if err != nil {
		return result, err
	}
	defer func() {
		if err := os.RemoveAll(scratchDir); err != nil {
			i.logger.WithError(err).Warn("Failed to remove scratch directory")
		}
	}()

	archivePath := filepath.Join(scratchDir, filepath.Base(artifact.Asset.Name))
	if _, err := i.downloader.DownloadArchive(ctx, artifact.Asset.DownloadURL, archivePath); err != nil {
		return result, err
	}

	stagedPath := filepath.Join(scratchDir, filepath.Base(i.binaryPath))
	size, err := i.downloader.Decompress(ctx, archivePath, stagedPath)
	if err != nil {
		return result, err
	}
	result.Size = size

	if err := VerifyExecutable(stagedPath); err != nil {
		return result, err
	}

	if err := i.scratch.SetBinaryPermissions(stagedPath); err != nil {
		return result, err
	}

	sum, err := common.FileSHA256(stagedPath)
	if err != nil {
		return result, err
	}
	result.SHA256 = sum

	if err := i.apply(stagedPath, sum); err != nil {
		return result, err
	}

	i.logger.WithFields(logrus.Fields{
		"path":   i.binaryPath,
		"sha256": sum,
		"bytes":  size,
	}).Info("Successfully installed mihomo binary")

	result.Version = i.SmokeTest(ctx)
	return result, nil
}

// apply swaps the staged binary into place, verifying its checksum on the way
func (i *Installer) apply(stagedPath, sum string) error {
	checksum, err := hex.DecodeString(sum)
	if err != nil {
		return fmt.Errorf("invalid checksum: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(i.binaryPath), 0o755); err != nil {
		return fmt.Errorf("failed to create binary directory: %w", err)
	}

	// go-update renames over an existing target
	if _, err := os.Stat(i.binaryPath); os.IsNotExist(err) {
		f, err := os.OpenFile(i.binaryPath, os.O_WRONLY|os.O_CREATE, BinaryMode)
		if err != nil {
			return fmt.Errorf("failed to create binary placeholder: %w", err)
		}
		f.Close()
	}

	staged, err := os.Open(stagedPath)
	if err != nil {
		return fmt.Errorf("failed to open staged binary: %w", err)
	}
	defer staged.Close()

	err = goupdate.Apply(staged, goupdate.Options{
		TargetPath: i.binaryPath,
		TargetMode: BinaryMode,
		Checksum:   checksum,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		if rerr := goupdate.RollbackError(err); rerr != nil {
			i.logger.WithError(rerr).Error("Failed to roll back binary swap")
		}
		return fmt.Errorf("failed to replace %s: %w", i.binaryPath, err)
	}

	return nil
}

// SmokeTest runs `<binary> -v` and returns the first line of its output.
// Failure is logged and reported as an empty version.
func (i *Installer) SmokeTest(ctx context.Context) string {
	cctx, cancel := context.WithTimeout(ctx, i.smokeTimeout)
	defer cancel()

	out, err := i.runner.RunAndTrimmedOutput(cctx, i.binaryPath, "-v")
	if err != nil {
		i.logger.WithError(err).Warn("Installed binary failed its version check")
		return ""
	}

	version, _, _ := strings.Cut(out, "\n")
	version = strings.TrimSpace(version)
	i.logger.WithField("version", version).Info("Installed binary reports version")
	return version
}
