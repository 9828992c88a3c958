package ui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// ConfigEditor points the config at the UI directory
type ConfigEditor interface {
	SetExternalUI(uiPath string) (bool, error)
}

// Restarter restarts the supervised service
type Restarter interface {
	Restart(ctx context.Context) error
}

// Options configure the UI fetch
type Options struct {
	Enabled      bool
	Repository   string
	Branch       string
	Dir          string
	CloneTimeout time.Duration
}

// UIResult reports the outcome. It never carries a fatal error.
type UIResult struct {
	Requested     bool
	Installed     bool
	Skipped       bool
	Reason        string
	Path          string
	Backend       string
	Revision      string
	ConfigUpdated bool
	Restarted     bool
}

type Fetcher struct {
	opts      Options
	cloner    Cloner
	editor    ConfigEditor
	restarter Restarter
	logger    *logrus.Entry
}

// NewFetcher builds a fetcher. restarter may be nil when the caller restarts
// the service itself afterwards.
func NewFetcher(opts Options, cloner Cloner, editor ConfigEditor, restarter Restarter) *Fetcher {
	return &Fetcher{
		opts:      opts,
		cloner:    cloner,
		editor:    editor,
		restarter: restarter,
		logger:    logrus.WithField("component", "ui-fetcher"),
	}
}

// Fetch replaces the UI directory with a fresh shallow clone and wires it
// into the config. Every failure is logged and reported as a skip.
func (f *Fetcher) Fetch(ctx context.Context) UIResult {
	result := UIResult{Requested: f.opts.Enabled, Path: f.opts.Dir, Backend: f.cloner.Name()}

	if !f.opts.Enabled {
		return f.skip(result, "not requested", nil)
	}

	if err := f.cloner.Available(); err != nil {
		return f.skip(result, "clone client unavailable", err)
	}

	if err := os.RemoveAll(f.opts.Dir); err != nil {
		return f.skip(result, "failed to remove previous UI directory", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.opts.Dir), 0o755); err != nil {
		return f.skip(result, "failed to create UI parent directory", err)
	}

	f.logger.WithFields(logrus.Fields{
		"repository": f.opts.Repository,
		"branch":     f.opts.Branch,
		"dest":       f.opts.Dir,
		"backend":    f.cloner.Name(),
	}).Info("Cloning UI bundle")

	cctx, cancel := context.WithTimeout(ctx, f.opts.CloneTimeout)
	defer cancel()

	rev, err := f.cloner.Clone(cctx, f.opts.Repository, f.opts.Branch, f.opts.Dir)
	if err != nil {
		os.RemoveAll(f.opts.Dir)
		return f.skip(result, "clone failed", err)
	}
	result.Installed = true
	result.Revision = rev

	changed, err := f.editor.SetExternalUI(f.opts.Dir)
	if err != nil {
		f.logger.WithError(err).Warn("UI cloned but the config could not be updated")
		result.Reason = fmt.Sprintf("config not updated: %v", err)
		return result
	}
	result.ConfigUpdated = changed

	if f.restarter != nil {
		if err := f.restarter.Restart(ctx); err != nil {
			f.logger.WithError(err).Warn("Failed to restart service after UI install")
		} else {
			result.Restarted = true
		}
	}

	f.logger.WithFields(logrus.Fields{
		"path":     f.opts.Dir,
		"revision": rev,
	}).Info("UI installed")

	return result
}

func (f *Fetcher) skip(result UIResult, reason string, err error) UIResult {
	result.Skipped = true
	result.Reason = reason
	if err != nil {
		result.Reason = fmt.Sprintf("%s: %v", reason, err)
		f.logger.WithError(err).Warnf("Skipping UI install: %s", reason)
	} else {
		f.logger.WithField("reason", reason).Debug("Skipping UI install")
	}
	return result
}
