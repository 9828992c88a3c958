package services

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/huangyocai/mihomo-installer/internal/cmdrunner"
	"github.com/huangyocai/mihomo-installer/internal/config"
	"github.com/huangyocai/mihomo-installer/internal/initializer"
	"github.com/huangyocai/mihomo-installer/internal/operations/common"
	"github.com/huangyocai/mihomo-installer/internal/operations/journal"
	"github.com/huangyocai/mihomo-installer/internal/operations/mihomo"
	"github.com/huangyocai/mihomo-installer/internal/operations/network"
	"github.com/huangyocai/mihomo-installer/internal/operations/probe"
	"github.com/huangyocai/mihomo-installer/internal/operations/proxyconfig"
	"github.com/huangyocai/mihomo-installer/internal/operations/release"
	"github.com/huangyocai/mihomo-installer/internal/operations/systemd"
	"github.com/huangyocai/mihomo-installer/internal/operations/ui"
	"github.com/huangyocai/mihomo-installer/pkg/logger"
	"github.com/huangyocai/mihomo-installer/pkg/models"
)

// EnvironmentProber detects what the host can run
type EnvironmentProber interface {
	Probe(ctx context.Context) (probe.EnvironmentDescriptor, error)
}

// ArtifactResolver picks the release asset for the host
type ArtifactResolver interface {
	Resolve(ctx context.Context, env probe.EnvironmentDescriptor) (release.SelectedArtifact, error)
}

// BinaryInstaller places the binary at its canonical path
type BinaryInstaller interface {
	Install(ctx context.Context, artifact release.SelectedArtifact) (mihomo.InstalledBinary, error)
	SmokeTest(ctx context.Context) string
}

// ConfigMaterializer owns the config document
type ConfigMaterializer interface {
	Path() string
	Materialize(p proxyconfig.Params) (proxyconfig.MaterializeResult, error)
	SetExternalUI(uiPath string) (bool, error)
}

// ServiceRegistrar owns the systemd unit
type ServiceRegistrar interface {
	Register(ctx context.Context) (systemd.ServiceReport, error)
	Restart(ctx context.Context) error
	Status(ctx context.Context) systemd.ServiceReport
}

// LogReader returns the newest service log lines
type LogReader func(unitName string, count int) ([]journal.Entry, error)

type Services struct {
	cfg    *config.Config
	runID  string
	logger *logger.Logger

	runner       cmdrunner.CommandRunner
	setup        *initializer.Initializer
	prober       EnvironmentProber
	resolver     ArtifactResolver
	installer    BinaryInstaller
	materializer ConfigMaterializer
	registrar    ServiceRegistrar
	cloner       ui.Cloner
	addresses    network.AddressLister
	readLogs     LogReader

	closers []func()
}

// NewServices wires every stage against the real host
func NewServices(ctx context.Context, cfg *config.Config, runID string) (*Services, error) {
	runner := cmdrunner.NewCommandsRunner()
	log := logger.NewLogger("services").WithRunID(runID)

	apiClient := common.NewHTTPClient(cfg.Timeouts.Connect, cfg.Timeouts.Request)
	downloadClient := common.NewHTTPClient(cfg.Timeouts.Connect, cfg.Timeouts.Download)

	owner, repo := cfg.RepositoryParts()
	resolver, err := release.NewResolver(apiClient, release.Options{
		Owner:        owner,
		Repo:         repo,
		Version:      cfg.Release.Version,
		APIURL:       cfg.Release.APIURL,
		Token:        cfg.Release.Token,
		BinaryName:   cfg.Release.BinaryName,
		TierFallback: cfg.TierFallback,
	})
	if err != nil {
		return nil, err
	}

	cloner, err := ui.NewCloner(cfg.UI.Backend, runner)
	if err != nil {
		return nil, err
	}

	supervisor, err := systemd.NewSupervisor(ctx, cfg.Service.Supervisor, runner, log.Entry())
	if err != nil {
		return nil, err
	}

	registrar := systemd.NewRegistrar(systemd.RegistrarOptions{
		UnitDir:        cfg.Paths.UnitDir,
		ServiceName:    cfg.Service.Name,
		BinaryPath:     cfg.Paths.Binary,
		ConfigDir:      cfg.Paths.ConfigDir,
		RestartSec:     cfg.Service.RestartSec,
		StatusWait:     cfg.Service.StatusWait,
		CommandTimeout: cfg.Timeouts.Command,
	}, supervisor, runner)

	return &Services{
		cfg:    cfg,
		runID:  runID,
		logger: log,
		runner: runner,
		setup: initializer.NewInitializer(initializer.Layout{
			ConfigDir: cfg.Paths.ConfigDir,
			BinaryDir: filepath.Dir(cfg.Paths.Binary),
			UnitDir:   cfg.Paths.UnitDir,
			EnvFile:   filepath.Join(cfg.Paths.ConfigDir, filepath.Base(models.EnvFilePath)),
		}),
		prober:       probe.NewProber(runner, cfg.Timeouts.Command),
		resolver:     resolver,
		installer:    mihomo.NewInstaller(mihomo.NewDownloader(downloadClient, cfg.Release.MaxDownloadBytes), runner, cfg.Paths.ScratchRoot, cfg.Paths.Binary),
		materializer: proxyconfig.NewMaterializer(cfg.ConfigFile()),
		registrar:    registrar,
		cloner:       cloner,
		addresses:    network.LocalAddresses,
		readLogs:     journal.ReadUnitLogs,
		closers:      []func(){supervisor.Close},
	}, nil
}

// Close releases the supervisor connection
func (s *Services) Close() {
	for _, c := range s.closers {
		c()
	}
}

// RunID identifies this invocation in logs and the summary
func (s *Services) RunID() string {
	return s.runID
}

func (s *Services) uiFetcher(enabled bool, restarter ui.Restarter) *ui.Fetcher {
	return ui.NewFetcher(ui.Options{
		Enabled:      enabled,
		Repository:   s.cfg.UI.Repository,
		Branch:       s.cfg.UI.Branch,
		Dir:          s.cfg.Paths.UIDir,
		CloneTimeout: s.cfg.Timeouts.Clone,
	}, s.cloner, s.materializer, restarter)
}

func stageError(stage string, err error) error {
	return fmt.Errorf("%s: %w", stage, err)
}
