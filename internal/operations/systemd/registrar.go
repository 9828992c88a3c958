package systemd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/unit"
	"github.com/mitchellh/go-ps"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/huangyocai/mihomo-installer/internal/cmdrunner"
	"github.com/huangyocai/mihomo-installer/internal/operations/common"
	"github.com/huangyocai/mihomo-installer/pkg/template"
)

const (
	UnitFileMode = os.FileMode(0o644)
	pollInterval = 500 * time.Millisecond
)

// RegistrarOptions describe the unit and how long to wait on the supervisor
type RegistrarOptions struct {
	UnitDir        string
	ServiceName    string
	BinaryPath     string
	ConfigDir      string
	RestartSec     int
	StatusWait     time.Duration
	CommandTimeout time.Duration
}

// Process is a running process that looks like mihomo
type Process struct {
	PID        int
	Executable string
}

// ServiceReport is the outcome of registering the service
type ServiceReport struct {
	UnitPath       string
	BackupPath     string
	Backend        string
	ActiveState    string
	Status         *ServiceStatus
	StatusErr      error
	StrayProcesses []Process
}

type Registrar struct {
	opts       RegistrarOptions
	supervisor Supervisor
	runner     cmdrunner.CommandRunner
	limiter    *rate.Limiter
	processes  func() ([]ps.Process, error)
	now        func() time.Time
	logger     *logrus.Entry
}

func NewRegistrar(opts RegistrarOptions, supervisor Supervisor, runner cmdrunner.CommandRunner) *Registrar {
	logger := logrus.WithField("component", "service-registrar")
	return &Registrar{
		opts:       opts,
		supervisor: WithBreaker(supervisor, logger),
		runner:     runner,
		limiter:    rate.NewLimiter(rate.Every(pollInterval), 1),
		processes:  ps.Processes,
		now:        time.Now,
		logger:     logger,
	}
}

// UnitPath returns where the unit file is written
func (r *Registrar) UnitPath() string {
	return filepath.Join(r.opts.UnitDir, UnitName(r.opts.ServiceName))
}

// Register writes the unit, reloads the supervisor, enables and restarts the
// service. Supervisor failures are fatal; the final status check is not.
func (r *Registrar) Register(ctx context.Context) (ServiceReport, error) {
	report := ServiceReport{UnitPath: r.UnitPath(), Backend: r.supervisor.Name()}
	name := UnitName(r.opts.ServiceName)

	backup, err := r.WriteUnit()
	if err != nil {
		return report, err
	}
	report.BackupPath = backup

	if err := r.call(ctx, func(cctx context.Context) error { return r.supervisor.DaemonReload(cctx) }); err != nil {
		return report, fmt.Errorf("failed to reload unit definitions: %w", err)
	}

	if err := r.call(ctx, func(cctx context.Context) error { return r.supervisor.Enable(cctx, name) }); err != nil {
		return report, fmt.Errorf("failed to enable %s: %w", name, err)
	}

	if err := r.call(ctx, func(cctx context.Context) error { return r.supervisor.Restart(cctx, name) }); err != nil {
		return report, fmt.Errorf("failed to restart %s: %w", name, err)
	}

	r.logger.WithFields(logrus.Fields{
		"unit":    name,
		"backend": report.Backend,
	}).Info("Service enabled and restarted")

	r.fillStatus(ctx, &report)
	return report, nil
}

// Restart restarts the service without touching the unit file
func (r *Registrar) Restart(ctx context.Context) error {
	name := UnitName(r.opts.ServiceName)
	return r.call(ctx, func(cctx context.Context) error { return r.supervisor.Restart(cctx, name) })
}

// Status reports the current state of the service without changing it
func (r *Registrar) Status(ctx context.Context) ServiceReport {
	report := ServiceReport{UnitPath: r.UnitPath(), Backend: r.supervisor.Name()}
	r.fillStatus(ctx, &report)
	return report
}

// WriteUnit backs up the current unit file and writes the new one
func (r *Registrar) WriteUnit() (string, error) {
	if err := os.MkdirAll(r.opts.UnitDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create unit directory: %w", err)
	}

	path := r.UnitPath()
	backup, err := common.BackupFile(r.logger, path, r.now())
	if err != nil {
		return "", fmt.Errorf("failed to back up unit file: %w", err)
	}

	opts := template.MihomoUnit(template.UnitParams{
		BinaryPath: r.opts.BinaryPath,
		ConfigDir:  r.opts.ConfigDir,
		RestartSec: r.opts.RestartSec,
	})
	if err := common.WriteFileAtomic(path, unit.Serialize(opts), UnitFileMode); err != nil {
		return "", fmt.Errorf("failed to write unit file: %w", err)
	}

	r.logger.WithField("path", path).Info("Unit file written")
	return backup, nil
}

func (r *Registrar) call(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, r.opts.CommandTimeout)
	defer cancel()
	return fn(cctx)
}

// fillStatus waits for the unit to settle, then records state, status text
// and stray processes. Every failure here is recorded, never returned.
func (r *Registrar) fillStatus(ctx context.Context, report *ServiceReport) {
	name := UnitName(r.opts.ServiceName)

	state, err := r.waitActive(ctx, name)
	report.ActiveState = state
	if err != nil {
		report.StatusErr = err
		r.logger.WithError(err).Warn("Could not confirm service state")
	} else if state != "active" {
		report.StatusErr = fmt.Errorf("service is %s", state)
		r.logger.WithField("state", state).Warn("Service is not active")
	}

	cctx, cancel := context.WithTimeout(ctx, r.opts.CommandTimeout)
	defer cancel()
	status, err := GetServiceStatus(cctx, name, r.runner)
	if err != nil {
		r.logger.WithError(err).Debug("Failed to read service status")
	}
	report.Status = status

	report.StrayProcesses = r.strayProcesses(status)
	for _, p := range report.StrayProcesses {
		r.logger.WithFields(logrus.Fields{
			"pid":        p.PID,
			"executable": p.Executable,
		}).Warn("Found a mihomo process not managed by the service")
	}
}

// waitActive polls the active state until it is active, failed or the wait
// budget runs out
func (r *Registrar) waitActive(ctx context.Context, name string) (string, error) {
	wctx, cancel := context.WithTimeout(ctx, r.opts.StatusWait)
	defer cancel()

	var (
		state   string
		lastErr error
	)
	for {
		if err := r.limiter.Wait(wctx); err != nil {
			if state != "" {
				return state, nil
			}
			if lastErr != nil {
				return "", lastErr
			}
			return "", err
		}

		s, err := r.supervisor.ActiveState(wctx, name)
		if err != nil {
			lastErr = err
			continue
		}
		state = s

		switch state {
		case "active", "failed":
			return state, nil
		}
	}
}

func (r *Registrar) strayProcesses(status *ServiceStatus) []Process {
	list, err := r.processes()
	if err != nil {
		r.logger.WithError(err).Debug("Failed to list processes")
		return nil
	}

	mainPID := 0
	if status != nil {
		if fields := strings.Fields(status.MainPID); len(fields) > 0 {
			mainPID, _ = strconv.Atoi(fields[0])
		}
	}
	// Ownership is unknown without the unit's main pid
	if mainPID == 0 {
		return nil
	}

	binary := filepath.Base(r.opts.BinaryPath)
	var stray []Process
	for _, p := range list {
		if p.Executable() != binary || p.Pid() == mainPID || p.PPid() == mainPID {
			continue
		}
		stray = append(stray, Process{PID: p.Pid(), Executable: p.Executable()})
	}
	return stray
}
