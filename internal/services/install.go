package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/huangyocai/mihomo-installer/internal/operations/mihomo"
	"github.com/huangyocai/mihomo-installer/internal/operations/network"
	"github.com/huangyocai/mihomo-installer/internal/operations/probe"
	"github.com/huangyocai/mihomo-installer/internal/operations/proxyconfig"
	"github.com/huangyocai/mihomo-installer/internal/operations/release"
	"github.com/huangyocai/mihomo-installer/internal/operations/systemd"
	"github.com/huangyocai/mihomo-installer/internal/operations/ui"
	"github.com/huangyocai/mihomo-installer/pkg/helper"
	"github.com/huangyocai/mihomo-installer/pkg/tools"
)

// InstallReport aggregates every stage result of one run
type InstallReport struct {
	RunID       string
	Environment probe.EnvironmentDescriptor
	Artifact    release.SelectedArtifact
	Binary      mihomo.InstalledBinary
	Config      proxyconfig.MaterializeResult
	UI          ui.UIResult
	Service     systemd.ServiceReport
	EnvTemplate bool
	Warnings    []string
	Duration    time.Duration
}

// Install runs the whole pipeline. The first fatal stage error aborts the
// run and is returned with the partial report.
func (s *Services) Install(ctx context.Context) (report *InstallReport, err error) {
	started := time.Now()
	report = &InstallReport{RunID: s.runID}
	defer func() { report.Duration = time.Since(started) }()
	defer helper.RecoverPanic(s.logger, "install", &err)

	s.logger.WithFields(logrus.Fields{
		"binary":     s.cfg.Paths.Binary,
		"config":     s.materializer.Path(),
		"install_ui": s.cfg.InstallUI,
	}).Info("Starting mihomo installation")

	if err := s.setup.EnsureLayout(); err != nil {
		return report, stageError("prepare", err)
	}

	env, err := s.prober.Probe(ctx)
	if err != nil {
		return report, stageError("probe", err)
	}
	report.Environment = env

	artifact, err := s.resolver.Resolve(ctx, env)
	if err != nil {
		return report, stageError("resolve", err)
	}
	report.Artifact = artifact
	if artifact.Tier != env.Tier {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("no %s build in %s, installed the %s build", env.Tier, artifact.Tag, artifact.Tier))
	}

	binary, err := s.installer.Install(ctx, artifact)
	if err != nil {
		return report, stageError("install", err)
	}
	report.Binary = binary
	if binary.Version == "" {
		report.Warnings = append(report.Warnings, "installed binary did not report a version")
	}

	if warning := s.checkControllerAddress(); warning != "" {
		report.Warnings = append(report.Warnings, warning)
	}

	params := proxyconfig.Params{
		Port:              s.cfg.Port,
		Controller:        s.cfg.Controller,
		Secret:            s.cfg.Secret,
		SubscriptionURL:   s.cfg.SubscriptionURL,
		GeoMirror:         s.cfg.GeoData.MirrorBase,
		GeoUpdateInterval: s.cfg.GeoData.UpdateInterval,
		Force:             s.cfg.ForceConfig,
	}
	if s.cfg.InstallUI {
		params.UIPath = s.cfg.Paths.UIDir
	}
	cfgResult, err := s.materializer.Materialize(params)
	if err != nil {
		return report, stageError("config", err)
	}
	report.Config = cfgResult
	if cfgResult.PlaceholderSubscription {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("no subscription URL given, edit %s before use", cfgResult.Path))
	}

	if written, err := s.setup.PlaceEnvTemplate(); err != nil {
		s.logger.WithError(err).Warn("Failed to write sample env file")
	} else {
		report.EnvTemplate = written
	}

	// The registrar restarts the service next
	report.UI = s.uiFetcher(s.cfg.InstallUI, nil).Fetch(ctx)
	if report.UI.Requested && report.UI.Skipped {
		report.Warnings = append(report.Warnings, "UI not installed: "+report.UI.Reason)
	}

	service, err := s.registrar.Register(ctx)
	report.Service = service
	if err != nil {
		return report, stageError("service", err)
	}
	if service.StatusErr != nil {
		report.Warnings = append(report.Warnings, "service status: "+service.StatusErr.Error())
	}
	if n := len(service.StrayProcesses); n > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d mihomo process(es) running outside %s", n, systemd.UnitName(s.cfg.Service.Name)))
	}

	s.logger.WithFields(logrus.Fields{
		"tag":      artifact.Tag,
		"asset":    artifact.Asset.Name,
		"sha256":   binary.SHA256,
		"state":    service.ActiveState,
		"warnings": len(report.Warnings),
	}).Info("mihomo installation finished")

	return report, nil
}

// InstallUI clones the dashboard into an existing installation and restarts
// the service when the config changed
func (s *Services) InstallUI(ctx context.Context) ui.UIResult {
	return s.uiFetcher(true, s.registrar).Fetch(ctx)
}

// checkControllerAddress warns when the controller binds an address that is
// not configured on this host
func (s *Services) checkControllerAddress() string {
	host, _, err := tools.SplitBindAddress(s.cfg.Controller)
	if err != nil || tools.IsWildcardOrLoopback(host) {
		return ""
	}

	found, err := network.HasAddress(host, s.addresses)
	if err != nil {
		s.logger.WithError(err).Debug("Failed to list local addresses")
		return ""
	}
	if !found {
		return fmt.Sprintf("controller address %s is not configured on any local interface", host)
	}
	return ""
}
