package services

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huangyocai/mihomo-installer/internal/config"
	"github.com/huangyocai/mihomo-installer/internal/initializer"
	"github.com/huangyocai/mihomo-installer/internal/operations/journal"
	"github.com/huangyocai/mihomo-installer/internal/operations/mihomo"
	"github.com/huangyocai/mihomo-installer/internal/operations/probe"
	"github.com/huangyocai/mihomo-installer/internal/operations/proxyconfig"
	"github.com/huangyocai/mihomo-installer/internal/operations/release"
	"github.com/huangyocai/mihomo-installer/internal/operations/systemd"
	"github.com/huangyocai/mihomo-installer/pkg/logger"
)

type fakeProber struct {
	env probe.EnvironmentDescriptor
	err error
}

func (f *fakeProber) Probe(ctx context.Context) (probe.EnvironmentDescriptor, error) {
	return f.env, f.err
}

type fakeResolver struct {
	artifact release.SelectedArtifact
	err      error
}

func (f *fakeResolver) Resolve(ctx context.Context, env probe.EnvironmentDescriptor) (release.SelectedArtifact, error) {
	return f.artifact, f.err
}

type fakeInstaller struct {
	path     string
	version  string
	err      error
	installs int
}

func (f *fakeInstaller) Install(ctx context.Context, artifact release.SelectedArtifact) (mihomo.InstalledBinary, error) {
	f.installs++
	if f.err != nil {
		return mihomo.InstalledBinary{Path: f.path}, f.err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return mihomo.InstalledBinary{}, err
	}
	if err := os.WriteFile(f.path, []byte("binary"), 0o755); err != nil {
		return mihomo.InstalledBinary{}, err
	}
	return mihomo.InstalledBinary{Path: f.path, Tag: artifact.Tag, SHA256: "abc123", Size: 6, Version: f.version}, nil
}

func (f *fakeInstaller) SmokeTest(ctx context.Context) string { return f.version }

type fakeRegistrar struct {
	report    systemd.ServiceReport
	err       error
	registers int
	restarts  int
}

func (f *fakeRegistrar) Register(ctx context.Context) (systemd.ServiceReport, error) {
	f.registers++
	return f.report, f.err
}

func (f *fakeRegistrar) Restart(ctx context.Context) error {
	f.restarts++
	return nil
}

func (f *fakeRegistrar) Status(ctx context.Context) systemd.ServiceReport { return f.report }

type fakeCloner struct {
	clones int
}

func (c *fakeCloner) Name() string     { return "fake" }
func (c *fakeCloner) Available() error { return nil }

func (c *fakeCloner) Clone(ctx context.Context, url, branch, dest string) (string, error) {
	c.clones++
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", err
	}
	return "0123456789abcdef", os.WriteFile(filepath.Join(dest, "index.html"), []byte("ui"), 0o644)
}

type harness struct {
	services  *Services
	cfg       *config.Config
	prober    *fakeProber
	resolver  *fakeResolver
	installer *fakeInstaller
	registrar *fakeRegistrar
	cloner    *fakeCloner
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *harness {
	t.Helper()
	root := t.TempDir()

	v := config.NewViper()
	v.Set("paths.binary", filepath.Join(root, "usr", "local", "bin", "mihomo"))
	v.Set("paths.config_dir", filepath.Join(root, "etc", "mihomo"))
	v.Set("paths.unit_dir", filepath.Join(root, "etc", "systemd", "system"))
	v.Set("paths.scratch_root", root)
	v.Set("port", 7890)
	v.Set("controller", "127.0.0.1:9090")
	v.Set("secret", "")
	v.Set("subscription_url", "https://example.com/sub")
	v.Set("install_ui", false)
	v.Set("force_config", false)
	cfg, err := config.Load(v, "")
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{
		cfg: cfg,
		prober: &fakeProber{env: probe.EnvironmentDescriptor{
			Machine:        "x86_64",
			Architecture:   "amd64",
			Tier:           probe.TierV3,
			TierSource:     probe.TierSourceLoader,
			PackageManager: probe.PackageManagerApt,
		}},
		resolver: &fakeResolver{artifact: release.SelectedArtifact{
			Tag:     "v1.19.0",
			Asset:   release.Asset{Name: "mihomo-linux-amd64-v3-v1.19.0.gz"},
			Pattern: "mihomo-linux-amd64-v3-*.gz",
			Tier:    probe.TierV3,
		}},
		installer: &fakeInstaller{path: cfg.Paths.Binary, version: "Mihomo Meta v1.19.0 linux amd64"},
		registrar: &fakeRegistrar{report: systemd.ServiceReport{
			UnitPath:    cfg.UnitFile(),
			Backend:     "fake",
			ActiveState: "active",
		}},
		cloner: &fakeCloner{},
	}

	h.services = &Services{
		cfg:    cfg,
		runID:  "run-1",
		logger: logger.NewLogger("services-test"),
		setup: initializer.NewInitializer(initializer.Layout{
			ConfigDir: cfg.Paths.ConfigDir,
			BinaryDir: filepath.Dir(cfg.Paths.Binary),
			UnitDir:   cfg.Paths.UnitDir,
			EnvFile:   filepath.Join(cfg.Paths.ConfigDir, "installer.env"),
		}),
		prober:       h.prober,
		resolver:     h.resolver,
		installer:    h.installer,
		materializer: proxyconfig.NewMaterializer(cfg.ConfigFile()),
		registrar:    h.registrar,
		cloner:       h.cloner,
		addresses:    func() ([]net.IP, error) { return []net.IP{net.ParseIP("127.0.0.1")}, nil },
	}
	return h
}

func TestInstall_Success(t *testing.T) {
	h := newHarness(t, nil)

	report, err := h.services.Install(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, probe.TierV3, report.Environment.Tier)
	assert.Equal(t, "v1.19.0", report.Artifact.Tag)
	assert.Equal(t, "abc123", report.Binary.SHA256)
	assert.Equal(t, "active", report.Service.ActiveState)
	assert.True(t, report.EnvTemplate)
	assert.Empty(t, report.Warnings)
	assert.Equal(t, 1, h.registrar.registers)
	assert.Zero(t, h.registrar.restarts)

	info, err := os.Stat(h.cfg.ConfigFile())
	require.NoError(t, err)
	assert.Equal(t, proxyconfig.ConfigMode, info.Mode().Perm())

	data, err := os.ReadFile(h.cfg.ConfigFile())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "external-ui")
	assert.Contains(t, string(data), "https://example.com/sub")

	assert.False(t, report.UI.Requested)
	assert.Zero(t, h.cloner.clones)
	_, err = os.Stat(h.cfg.Paths.UIDir)
	assert.True(t, os.IsNotExist(err))
}

func TestInstall_WithUI(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.InstallUI = true })

	report, err := h.services.Install(context.Background())
	require.NoError(t, err)

	assert.True(t, report.UI.Installed)
	assert.False(t, report.UI.Restarted)
	assert.Equal(t, 1, h.cloner.clones)
	assert.Zero(t, h.registrar.restarts)
	assert.FileExists(t, filepath.Join(h.cfg.Paths.UIDir, "index.html"))

	data, err := os.ReadFile(h.cfg.ConfigFile())
	require.NoError(t, err)
	assert.Contains(t, string(data), "external-ui: "+h.cfg.Paths.UIDir)
}

func TestInstall_KeepsExistingConfig(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.services.Install(context.Background())
	require.NoError(t, err)
	first, err := os.ReadFile(h.cfg.ConfigFile())
	require.NoError(t, err)

	report, err := h.services.Install(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Config.Skipped)
	assert.False(t, report.EnvTemplate)

	second, err := os.ReadFile(h.cfg.ConfigFile())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestInstall_ResolveFailureStopsPipeline(t *testing.T) {
	h := newHarness(t, nil)
	h.resolver.err = release.ErrNoMatchingAsset

	report, err := h.services.Install(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, release.ErrNoMatchingAsset)
	assert.True(t, strings.HasPrefix(err.Error(), "resolve: "))

	assert.Equal(t, probe.TierV3, report.Environment.Tier)
	assert.Zero(t, h.installer.installs)
	assert.Zero(t, h.registrar.registers)
	assert.NoFileExists(t, h.cfg.ConfigFile())
}

func TestInstall_ProbeFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.prober.err = probe.ErrUnsupportedArchitecture

	_, err := h.services.Install(context.Background())
	assert.ErrorIs(t, err, probe.ErrUnsupportedArchitecture)
}

func TestInstall_InstallFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.installer.err = mihomo.ErrNotExecutable

	_, err := h.services.Install(context.Background())
	assert.ErrorIs(t, err, mihomo.ErrNotExecutable)
	assert.NoFileExists(t, h.cfg.ConfigFile())
}

func TestInstall_ServiceFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.registrar.err = errors.New("failed to enable mihomo.service")

	report, err := h.services.Install(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service: failed to enable")
	assert.FileExists(t, h.cfg.ConfigFile())
	assert.Equal(t, h.cfg.UnitFile(), report.Service.UnitPath)
}

func TestInstall_SoftWarnings(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Controller = "10.9.9.9:9090"
		cfg.SubscriptionURL = ""
	})
	h.installer.version = ""
	h.resolver.artifact.Tier = probe.TierV2
	h.registrar.report.StatusErr = errors.New("service is failed")
	h.registrar.report.StrayProcesses = []systemd.Process{{PID: 77, Executable: "mihomo"}}

	report, err := h.services.Install(context.Background())
	require.NoError(t, err)

	warnings := strings.Join(report.Warnings, "\n")
	assert.Contains(t, warnings, "no v3 build in v1.19.0, installed the v2 build")
	assert.Contains(t, warnings, "did not report a version")
	assert.Contains(t, warnings, "10.9.9.9 is not configured")
	assert.Contains(t, warnings, "no subscription URL given")
	assert.Contains(t, warnings, "service is failed")
	assert.Contains(t, warnings, "1 mihomo process(es) running outside mihomo.service")
}

func TestInstallUI_RestartsService(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.services.Install(context.Background())
	require.NoError(t, err)

	result := h.services.InstallUI(context.Background())
	assert.True(t, result.Installed)
	assert.True(t, result.ConfigUpdated)
	assert.True(t, result.Restarted)
	assert.Equal(t, 1, h.registrar.restarts)
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"version":"v1.19.0","meta":true}`))
	}))
	defer srv.Close()

	h := newHarness(t, func(cfg *config.Config) {
		cfg.Controller = strings.TrimPrefix(srv.URL, "http://")
		cfg.Secret = "s3cret"
	})
	h.services.readLogs = func(unitName string, count int) ([]journal.Entry, error) {
		assert.Equal(t, "mihomo.service", unitName)
		assert.Equal(t, 5, count)
		return []journal.Entry{{Level: "INFO", Message: "RESTful API listening at: 127.0.0.1:9090"}}, nil
	}

	_, err := h.services.Install(context.Background())
	require.NoError(t, err)

	report := h.services.Status(context.Background(), 5)
	assert.True(t, report.BinaryInstalled)
	assert.NotEmpty(t, report.BinarySHA256)
	assert.Equal(t, "Mihomo Meta v1.19.0 linux amd64", report.BinaryVersion)
	assert.True(t, report.ConfigPresent)
	assert.Empty(t, report.ConfigBackups)
	assert.NoError(t, report.ControllerErr)
	assert.Equal(t, "v1.19.0", report.ControllerVersion)
	assert.Equal(t, "active", report.Service.ActiveState)
	require.Len(t, report.Logs, 1)
}

func TestStatus_NothingInstalled(t *testing.T) {
	h := newHarness(t, nil)

	report := h.services.Status(context.Background(), 0)
	assert.False(t, report.BinaryInstalled)
	assert.False(t, report.ConfigPresent)
	assert.Empty(t, report.Controller)
	assert.NoError(t, report.ControllerErr)
	assert.Nil(t, report.Logs)
}

func TestRenderInstallSummary(t *testing.T) {
	color.NoColor = true
	h := newHarness(t, nil)

	report, err := h.services.Install(context.Background())
	require.NoError(t, err)

	var out bytes.Buffer
	RenderInstallSummary(&out, report, nil)
	text := out.String()

	assert.Contains(t, text, "run run-1")
	assert.Contains(t, text, "amd64 v3 (tier from ld.so), package manager apt")
	assert.Contains(t, text, "v1.19.0 mihomo-linux-amd64-v3-v1.19.0.gz")
	assert.Contains(t, text, report.Config.Secret)
	assert.Contains(t, text, "Installation finished")

	out.Reset()
	RenderInstallSummary(&out, &InstallReport{RunID: "run-2"}, errors.New("resolve: boom"))
	assert.Contains(t, out.String(), "Installation failed: resolve: boom")
}
