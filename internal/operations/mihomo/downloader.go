package mihomo

import (
	"compress/gzip"
	"context"
	"debug/elf"
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/huangyocai/mihomo-installer/internal/operations/common"
)

type Downloader struct {
	httpClient *http.Client
	maxBytes   int64
	logger     *logrus.Entry
}

func NewDownloader(httpClient *http.Client, maxBytes int64) *Downloader {
	return &Downloader{
		httpClient: httpClient,
		maxBytes:   maxBytes,
		logger:     logrus.WithField("component", "mihomo-downloader"),
	}
}

// DownloadArchive downloads url to destPath
func (d *Downloader) DownloadArchive(ctx context.Context, url, destPath string) (int64, error) {
	d.logger.WithFields(logrus.Fields{
		"url":  url,
		"dest": destPath,
	}).Info("Starting archive download")

	file, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive file: %w", err)
	}
	defer file.Close()

	written, err := common.Download(ctx, d.logger, d.httpClient, url, file, d.maxBytes)
	if err != nil {
		return written, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	if err := file.Sync(); err != nil {
		return written, fmt.Errorf("failed to sync archive: %w", err)
	}

	d.logger.WithField("bytes", written).Info("Successfully downloaded archive")
	return written, nil
}

// Decompress gunzips archivePath into destPath
func (d *Downloader) Decompress(ctx context.Context, archivePath, destPath string) (int64, error) {
	d.logger.WithField("archive", archivePath).Debug("Decompressing archive")

	src, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer src.Close()

	zr, err := gzip.NewReader(src)
	if err != nil {
		return 0, fmt.Errorf("%w: not a gzip archive: %v", ErrDownloadFailed, err)
	}
	defer zr.Close()

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create binary file: %w", err)
	}
	defer dst.Close()

	written, err := common.CopyWithContext(ctx, dst, zr)
	if err != nil {
		return written, fmt.Errorf("%w: corrupt archive: %v", ErrDownloadFailed, err)
	}

	return written, dst.Sync()
}

// VerifyExecutable checks that path is an x86-64 ELF executable
func VerifyExecutable(path string) error {
	f, err := elf.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotExecutable, err)
	}
	defer f.Close()

	if f.Machine != elf.EM_X86_64 {
		return fmt.Errorf("%w: machine is %s", ErrNotExecutable, f.Machine)
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return fmt.Errorf("%w: elf type is %s", ErrNotExecutable, f.Type)
	}

	return nil
}
