package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, 7890, cfg.Port)
	assert.Equal(t, "127.0.0.1:9090", cfg.Controller)
	assert.False(t, cfg.InstallUI)
	assert.False(t, cfg.ForceConfig)
	assert.False(t, cfg.TierFallback)
	assert.Equal(t, "/etc/mihomo/config.yaml", cfg.ConfigFile())
	assert.Equal(t, "/etc/mihomo/ui", cfg.Paths.UIDir)
	assert.Equal(t, "/etc/systemd/system/mihomo.service", cfg.UnitFile())
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Connect)
	assert.Equal(t, 5*time.Minute, cfg.Timeouts.Download)
	assert.Equal(t, "gh-pages", cfg.UI.Branch)

	owner, name := cfg.RepositoryParts()
	assert.Equal(t, "MetaCubeX", owner)
	assert.Equal(t, "mihomo", name)
}

func TestLoad_ShortEnvironmentNames(t *testing.T) {
	t.Setenv("SUB_URL", "https://example.com/sub")
	t.Setenv("SECRET", "s3cr3t")
	t.Setenv("PORT", "8080")
	t.Setenv("CONTROLLER", "0.0.0.0:9999")
	t.Setenv("INSTALL_UI", "1")
	t.Setenv("FORCE_CONFIG", "true")
	t.Setenv("MIHOMO_VERSION", "v1.19.0")
	t.Setenv("GITHUB_TOKEN", "tok")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/sub", cfg.SubscriptionURL)
	assert.Equal(t, "s3cr3t", cfg.Secret)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "0.0.0.0:9999", cfg.Controller)
	assert.True(t, cfg.InstallUI)
	assert.True(t, cfg.ForceConfig)
	assert.Equal(t, "v1.19.0", cfg.Release.Version)
	assert.Equal(t, "tok", cfg.Release.Token)
}

func TestLoad_PrefixedEnvironmentNames(t *testing.T) {
	t.Setenv("MIHOMO_PATHS_CONFIG_DIR", "/opt/mihomo")
	t.Setenv("MIHOMO_SERVICE_SUPERVISOR", "systemctl")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "/opt/mihomo/config.yaml", cfg.ConfigFile())
	assert.Equal(t, "/opt/mihomo/ui", cfg.Paths.UIDir)
	assert.Equal(t, "systemctl", cfg.Service.Supervisor)
}

func TestLoad_OptionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7891\nui:\n  backend: git\n"), 0o600))

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, 7891, cfg.Port)
	assert.Equal(t, "git", cfg.UI.Backend)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{"port zero", func(c *Config) { c.Port = 0 }, errInvalidPort},
		{"port too high", func(c *Config) { c.Port = 70000 }, errInvalidPort},
		{"controller without port", func(c *Config) { c.Controller = "127.0.0.1" }, errInvalidController},
		{"controller with hostname", func(c *Config) { c.Controller = "localhost:9090" }, errInvalidController},
		{"controller bad port", func(c *Config) { c.Controller = "127.0.0.1:abc" }, errInvalidController},
		{"subscription ftp", func(c *Config) { c.SubscriptionURL = "ftp://example.com/sub" }, errInvalidSubURL},
		{"subscription relative", func(c *Config) { c.SubscriptionURL = "/sub" }, errInvalidSubURL},
		{"repository", func(c *Config) { c.Release.Repository = "mihomo" }, errInvalidRepository},
		{"supervisor", func(c *Config) { c.Service.Supervisor = "openrc" }, errInvalidSupervisor},
		{"ui backend", func(c *Config) { c.UI.Backend = "svn" }, errInvalidUIBackend},
		{"timeout", func(c *Config) { c.Timeouts.Connect = 0 }, errInvalidTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(NewViper(), "")
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestValidate_AcceptsEmptyHostController(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	cfg.Controller = ":9090"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "", cfg.ControllerHost())
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()

	loaded, err := LoadEnvFile(filepath.Join(dir, "missing.env"), false)
	require.NoError(t, err)
	assert.False(t, loaded)

	_, err = LoadEnvFile(filepath.Join(dir, "missing.env"), true)
	require.Error(t, err)

	path := filepath.Join(dir, "installer.env")
	require.NoError(t, os.WriteFile(path, []byte("SUB_URL=https://example.com/from-file\nPORT=7000\n"), 0o600))

	// Variables already present in the environment win over the file
	t.Setenv("PORT", "7001")
	t.Setenv("SUB_URL", "")
	require.NoError(t, os.Unsetenv("SUB_URL"))

	loaded, err = LoadEnvFile(path, true)
	require.NoError(t, err)
	assert.True(t, loaded)
	t.Cleanup(func() { os.Unsetenv("SUB_URL") })

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/from-file", cfg.SubscriptionURL)
	assert.Equal(t, 7001, cfg.Port)
}
