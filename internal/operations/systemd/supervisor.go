package systemd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/sirupsen/logrus"

	"github.com/huangyocai/mihomo-installer/internal/cmdrunner"
)

// Supervisor drives the service manager
type Supervisor interface {
	Name() string
	DaemonReload(ctx context.Context) error
	Enable(ctx context.Context, unit string) error
	Restart(ctx context.Context, unit string) error
	ActiveState(ctx context.Context, unit string) (string, error)
	Close()
}

// Backend names accepted by NewSupervisor
const (
	BackendAuto      = "auto"
	BackendDBus      = "dbus"
	BackendSystemctl = "systemctl"
)

var errJobFailed = errors.New("systemd job did not complete")

// NewSupervisor returns the requested backend. auto prefers D-Bus and falls
// back to systemctl when the system bus is unreachable.
func NewSupervisor(ctx context.Context, backend string, runner cmdrunner.CommandRunner, logger *logrus.Entry) (Supervisor, error) {
	switch backend {
	case BackendSystemctl:
		return NewSystemctlSupervisor(runner), nil
	case BackendDBus:
		return NewDBusSupervisor(ctx)
	case BackendAuto, "":
		s, err := NewDBusSupervisor(ctx)
		if err == nil {
			return s, nil
		}
		logger.WithError(err).Debug("System bus unavailable, using systemctl")
		return NewSystemctlSupervisor(runner), nil
	default:
		return nil, fmt.Errorf("unknown supervisor backend: %s", backend)
	}
}

// SystemctlSupervisor shells out to systemctl
type SystemctlSupervisor struct {
	runner cmdrunner.CommandRunner
}

func NewSystemctlSupervisor(runner cmdrunner.CommandRunner) *SystemctlSupervisor {
	return &SystemctlSupervisor{runner: runner}
}

func (s *SystemctlSupervisor) Name() string { return BackendSystemctl }

func (s *SystemctlSupervisor) DaemonReload(ctx context.Context) error {
	return s.runner.Run(ctx, "systemctl", "daemon-reload")
}

func (s *SystemctlSupervisor) Enable(ctx context.Context, unit string) error {
	return s.runner.Run(ctx, "systemctl", "enable", unit)
}

func (s *SystemctlSupervisor) Restart(ctx context.Context, unit string) error {
	return s.runner.Run(ctx, "systemctl", "restart", unit)
}

// ActiveState uses is-active, which exits non-zero for anything but active
func (s *SystemctlSupervisor) ActiveState(ctx context.Context, unit string) (string, error) {
	out, err := s.runner.RunWithOutputNoErrLog(ctx, "systemctl", "is-active", unit)
	state := strings.TrimSpace(string(out))
	if state != "" {
		return state, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query state of %s: %w", unit, err)
	}
	return "unknown", nil
}

func (s *SystemctlSupervisor) Close() {}

// DBusSupervisor talks to systemd over the system bus
type DBusSupervisor struct {
	conn *dbus.Conn
}

func NewDBusSupervisor(ctx context.Context) (*DBusSupervisor, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd over dbus: %w", err)
	}
	return &DBusSupervisor{conn: conn}, nil
}

func (s *DBusSupervisor) Name() string { return BackendDBus }

func (s *DBusSupervisor) DaemonReload(ctx context.Context) error {
	return s.conn.ReloadContext(ctx)
}

func (s *DBusSupervisor) Enable(ctx context.Context, unit string) error {
	_, _, err := s.conn.EnableUnitFilesContext(ctx, []string{unit}, false, true)
	return err
}

func (s *DBusSupervisor) Restart(ctx context.Context, unit string) error {
	done := make(chan string, 1)
	if _, err := s.conn.RestartUnitContext(ctx, unit, "replace", done); err != nil {
		return err
	}

	select {
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("%w: restart %s: %s", errJobFailed, unit, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *DBusSupervisor) ActiveState(ctx context.Context, unit string) (string, error) {
	prop, err := s.conn.GetUnitPropertyContext(ctx, unit, "ActiveState")
	if err != nil {
		return "", err
	}
	state, ok := prop.Value.Value().(string)
	if !ok {
		return "", fmt.Errorf("unexpected ActiveState value %v", prop.Value)
	}
	return state, nil
}

func (s *DBusSupervisor) Close() {
	s.conn.Close()
}
