package services

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/huangyocai/mihomo-installer/internal/operations/ui"
)

const (
	labelOK   = "[ OK ]"
	labelWarn = "[WARN]"
	labelFail = "[FAIL]"
	labelSkip = "[SKIP]"
)

func statusLabel(ok bool, soft bool) string {
	switch {
	case ok:
		return color.GreenString(labelOK)
	case soft:
		return color.YellowString(labelWarn)
	default:
		return color.RedString(labelFail)
	}
}

func line(out io.Writer, label, name, format string, args ...any) {
	_, _ = fmt.Fprintf(out, "%s %-10s %s\n", label, name, fmt.Sprintf(format, args...))
}

// RenderInstallSummary prints the outcome of an install run. runErr is the
// fatal error that stopped the pipeline, if any.
func RenderInstallSummary(out io.Writer, report *InstallReport, runErr error) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(out, "\nmihomo installer summary (run %s)\n", report.RunID)

	if env := report.Environment; env.Architecture != "" {
		line(out, statusLabel(true, false), "host", "%s %s (tier from %s), package manager %s",
			env.Architecture, env.Tier, env.TierSource, env.PackageManager)
	}

	if a := report.Artifact; a.Asset.Name != "" {
		line(out, statusLabel(true, false), "release", "%s %s", a.Tag, a.Asset.Name)
	}

	if b := report.Binary; b.SHA256 != "" {
		version := b.Version
		if version == "" {
			version = "version unknown"
		}
		line(out, statusLabel(b.Version != "", true), "binary", "%s (%s)", b.Path, version)
	}

	if c := report.Config; c.Path != "" {
		switch {
		case c.Skipped:
			line(out, color.CyanString(labelSkip), "config", "%s kept (force_config to overwrite)", c.Path)
		case c.BackupPath != "":
			line(out, statusLabel(true, false), "config", "%s written, previous saved as %s", c.Path, c.BackupPath)
		default:
			line(out, statusLabel(true, false), "config", "%s written", c.Path)
		}
		if c.SecretGenerated {
			line(out, statusLabel(true, false), "secret", "%s", c.Secret)
		}
	}

	renderUI(out, report.UI)

	if s := report.Service; s.UnitPath != "" {
		state := s.ActiveState
		if state == "" {
			state = "unknown"
		}
		line(out, statusLabel(s.StatusErr == nil && runErr == nil, runErr == nil), "service", "%s via %s, %s",
			s.UnitPath, s.Backend, state)
	}

	for _, w := range report.Warnings {
		line(out, color.YellowString(labelWarn), "warning", "%s", w)
	}

	if runErr != nil {
		_, _ = fmt.Fprintln(out, color.RedString("\nInstallation failed: %v", runErr))
		return
	}
	_, _ = fmt.Fprintln(out, color.GreenString("\nInstallation finished in %s", report.Duration.Round(time.Millisecond)))
}

func renderUI(out io.Writer, r ui.UIResult) {
	switch {
	case !r.Requested:
		return
	case r.Installed:
		detail := r.Path
		if r.Revision != "" {
			detail += " @ " + shortRevision(r.Revision)
		}
		line(out, statusLabel(r.Reason == "", true), "ui", "%s", detail)
	default:
		line(out, statusLabel(false, true), "ui", "skipped: %s", r.Reason)
	}
}

// RenderUIResult prints the outcome of a standalone UI install
func RenderUIResult(out io.Writer, r ui.UIResult) {
	renderUI(out, r)
	if r.Installed && r.Restarted {
		line(out, statusLabel(true, false), "service", "restarted")
	}
}

// RenderStatus prints an existing installation
func RenderStatus(out io.Writer, r *StatusReport) {
	if r.BinaryInstalled {
		version := r.BinaryVersion
		if version == "" {
			version = "version unknown"
		}
		line(out, statusLabel(true, false), "binary", "%s (%s)", r.BinaryPath, version)
		line(out, statusLabel(true, false), "sha256", "%s", r.BinarySHA256)
	} else {
		line(out, statusLabel(false, false), "binary", "%s not installed", r.BinaryPath)
	}

	if r.ConfigPresent {
		line(out, statusLabel(true, false), "config", "%s (%d backup(s))", r.ConfigPath, len(r.ConfigBackups))
	} else {
		line(out, statusLabel(false, false), "config", "%s missing", r.ConfigPath)
	}

	if r.Controller != "" {
		if r.ControllerErr != nil {
			line(out, statusLabel(false, true), "controller", "%s unreachable: %v", r.Controller, r.ControllerErr)
		} else {
			line(out, statusLabel(true, false), "controller", "%s running %s", r.Controller, r.ControllerVersion)
		}
	}

	s := r.Service
	state := s.ActiveState
	if state == "" {
		state = "unknown"
	}
	line(out, statusLabel(state == "active", false), "service", "%s via %s, %s", s.UnitPath, s.Backend, state)
	if s.Status != nil && s.Status.MainPID != "" {
		line(out, statusLabel(true, false), "main pid", "%s, memory %s", s.Status.MainPID, s.Status.Memory)
	}
	for _, p := range s.StrayProcesses {
		line(out, color.YellowString(labelWarn), "stray", "pid %d (%s) not managed by the unit", p.PID, p.Executable)
	}

	if r.LogsErr != nil {
		line(out, color.YellowString(labelWarn), "logs", "%v", r.LogsErr)
	}
	if len(r.Logs) > 0 {
		_, _ = fmt.Fprintln(out)
		for _, e := range r.Logs {
			_, _ = fmt.Fprintf(out, "%s %-7s %s\n", e.Timestamp, strings.ToLower(e.Level), e.Message)
		}
	}
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
