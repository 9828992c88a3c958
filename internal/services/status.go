package services

import (
	"context"
	"os"

	"github.com/huangyocai/mihomo-installer/internal/operations/common"
	"github.com/huangyocai/mihomo-installer/internal/operations/journal"
	"github.com/huangyocai/mihomo-installer/internal/operations/proxy"
	"github.com/huangyocai/mihomo-installer/internal/operations/proxyconfig"
	"github.com/huangyocai/mihomo-installer/internal/operations/systemd"
)

// StatusReport describes an existing installation
type StatusReport struct {
	BinaryPath      string
	BinaryInstalled bool
	BinarySHA256    string
	BinaryVersion   string

	ConfigPath    string
	ConfigPresent bool
	ConfigBackups []string
	Controller    string

	ControllerVersion string
	ControllerErr     error

	Service systemd.ServiceReport

	Logs    []journal.Entry
	LogsErr error
}

// Status inspects the binary, config, controller and service. Nothing here
// is fatal: every failure is recorded in the report.
func (s *Services) Status(ctx context.Context, logCount int) *StatusReport {
	report := &StatusReport{
		BinaryPath: s.cfg.Paths.Binary,
		ConfigPath: s.materializer.Path(),
	}

	if info, err := os.Stat(report.BinaryPath); err == nil && info.Mode().IsRegular() {
		report.BinaryInstalled = true
		if sum, err := common.FileSHA256(report.BinaryPath); err == nil {
			report.BinarySHA256 = sum
		}
		report.BinaryVersion = s.installer.SmokeTest(ctx)
	}

	controller, secret, err := proxyconfig.ReadSettings(report.ConfigPath)
	if err == nil {
		report.ConfigPresent = true
		report.Controller = controller
	} else if !os.IsNotExist(err) {
		s.logger.WithError(err).Warn("Failed to read config")
	}

	if backups, err := common.ListBackups(report.ConfigPath); err == nil {
		report.ConfigBackups = backups
	}

	if report.Controller != "" {
		c, err := proxy.NewController(report.Controller, secret, s.cfg.Timeouts.Request)
		if err == nil {
			var info *proxy.VersionInfo
			if info, err = c.Version(ctx); err == nil {
				report.ControllerVersion = info.Version
			}
		}
		report.ControllerErr = err
	}

	report.Service = s.registrar.Status(ctx)

	if logCount > 0 && s.readLogs != nil {
		report.Logs, report.LogsErr = s.readLogs(systemd.UnitName(s.cfg.Service.Name), logCount)
	}

	return report
}
