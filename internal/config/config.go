package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/huangyocai/mihomo-installer/pkg/models"
)

const envPrefix = "MIHOMO"

var (
	errInvalidPort       = errors.New("listen port must be between 1 and 65535")
	errInvalidController = errors.New("controller must be host:port")
	errInvalidSubURL     = errors.New("subscription url must be an absolute http(s) url")
	errInvalidRepository = errors.New("release repository must be owner/name")
	errInvalidSupervisor = errors.New("supervisor must be auto, dbus or systemctl")
	errInvalidUIBackend  = errors.New("ui backend must be builtin or git")
	errInvalidTimeout    = errors.New("timeouts must be positive")
)

// Config holds every option recognized by the installer.
type Config struct {
	SubscriptionURL string `mapstructure:"subscription_url"`
	Secret          string `mapstructure:"secret"`
	Port            int    `mapstructure:"port"`
	Controller      string `mapstructure:"controller"`
	InstallUI       bool   `mapstructure:"install_ui"`
	ForceConfig     bool   `mapstructure:"force_config"`
	TierFallback    bool   `mapstructure:"tier_fallback"`
	Interactive     bool   `mapstructure:"interactive"`

	Paths    PathsConfig   `mapstructure:"paths"`
	Release  ReleaseConfig `mapstructure:"release"`
	UI       UIConfig      `mapstructure:"ui"`
	Service  ServiceConfig `mapstructure:"service"`
	GeoData  GeoDataConfig `mapstructure:"geodata"`
	Timeouts TimeoutConfig `mapstructure:"timeouts"`
	Logging  LoggingConfig `mapstructure:"logging"`
}

// PathsConfig holds the canonical host paths
type PathsConfig struct {
	Binary      string `mapstructure:"binary"`
	ConfigDir   string `mapstructure:"config_dir"`
	UIDir       string `mapstructure:"ui_dir"`
	UnitDir     string `mapstructure:"unit_dir"`
	ScratchRoot string `mapstructure:"scratch_root"`
}

// ReleaseConfig describes where release assets come from
type ReleaseConfig struct {
	Repository       string `mapstructure:"repository"`
	Version          string `mapstructure:"version"`
	APIURL           string `mapstructure:"api_url"`
	Token            string `mapstructure:"token"`
	BinaryName       string `mapstructure:"binary_name"`
	MaxDownloadBytes int64  `mapstructure:"max_download_bytes"`
}

// UIConfig describes the dashboard bundle
type UIConfig struct {
	Repository string `mapstructure:"repository"`
	Branch     string `mapstructure:"branch"`
	Backend    string `mapstructure:"backend"`
}

// ServiceConfig holds supervisor options
type ServiceConfig struct {
	Name       string        `mapstructure:"name"`
	Supervisor string        `mapstructure:"supervisor"`
	RestartSec int           `mapstructure:"restart_sec"`
	StatusWait time.Duration `mapstructure:"status_wait"`
}

// GeoDataConfig points the core at a geo-data mirror
type GeoDataConfig struct {
	MirrorBase     string `mapstructure:"mirror_base"`
	UpdateInterval int    `mapstructure:"update_interval"`
}

// TimeoutConfig bounds every blocking call
type TimeoutConfig struct {
	Connect  time.Duration `mapstructure:"connect"`
	Request  time.Duration `mapstructure:"request"`
	Download time.Duration `mapstructure:"download"`
	Clone    time.Duration `mapstructure:"clone"`
	Command  time.Duration `mapstructure:"command"`
	Run      time.Duration `mapstructure:"run"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ConfigFile returns the canonical config document path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.Paths.ConfigDir, models.ConfigFileName)
}

// UnitFile returns the canonical service descriptor path.
func (c *Config) UnitFile() string {
	return filepath.Join(c.Paths.UnitDir, c.Service.Name+".service")
}

// RepositoryParts splits release.repository into owner and name.
func (c *Config) RepositoryParts() (string, string) {
	owner, name, _ := strings.Cut(c.Release.Repository, "/")
	return owner, name
}

// NewViper returns a viper instance with defaults and environment bindings.
// The short variable names (SUB_URL, SECRET, ...) are kept for compatibility
// with the shell installer; every key is also reachable as MIHOMO_<KEY>.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("subscription_url", "")
	v.SetDefault("secret", "")
	v.SetDefault("port", 7890)
	v.SetDefault("controller", "127.0.0.1:9090")
	v.SetDefault("install_ui", false)
	v.SetDefault("force_config", false)
	v.SetDefault("tier_fallback", false)
	v.SetDefault("interactive", false)

	v.SetDefault("paths.binary", models.BinaryPath)
	v.SetDefault("paths.config_dir", models.ConfigDir)
	v.SetDefault("paths.ui_dir", "")
	v.SetDefault("paths.unit_dir", models.SystemdPath)
	v.SetDefault("paths.scratch_root", os.TempDir())

	v.SetDefault("release.repository", "MetaCubeX/mihomo")
	v.SetDefault("release.version", "")
	v.SetDefault("release.api_url", "")
	v.SetDefault("release.token", "")
	v.SetDefault("release.binary_name", "mihomo")
	v.SetDefault("release.max_download_bytes", int64(200<<20))

	v.SetDefault("ui.repository", "https://github.com/MetaCubeX/metacubexd.git")
	v.SetDefault("ui.branch", "gh-pages")
	v.SetDefault("ui.backend", "builtin")

	v.SetDefault("service.name", models.ServiceName)
	v.SetDefault("service.supervisor", "auto")
	v.SetDefault("service.restart_sec", 5)
	v.SetDefault("service.status_wait", "10s")

	v.SetDefault("geodata.mirror_base", "https://testingcf.jsdelivr.net/gh/MetaCubeX/meta-rules-dat@release")
	v.SetDefault("geodata.update_interval", 24)

	v.SetDefault("timeouts.connect", "10s")
	v.SetDefault("timeouts.request", "30s")
	v.SetDefault("timeouts.download", "5m")
	v.SetDefault("timeouts.clone", "2m")
	v.SetDefault("timeouts.command", "15s")
	v.SetDefault("timeouts.run", "15m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", models.LogFilePath)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short names accepted by the original installer script
	_ = v.BindEnv("subscription_url", "MIHOMO_SUBSCRIPTION_URL", "MIHOMO_SUB_URL", "SUB_URL")
	_ = v.BindEnv("secret", "MIHOMO_SECRET", "SECRET")
	_ = v.BindEnv("port", "MIHOMO_PORT", "PORT")
	_ = v.BindEnv("controller", "MIHOMO_CONTROLLER", "CONTROLLER")
	_ = v.BindEnv("install_ui", "MIHOMO_INSTALL_UI", "INSTALL_UI")
	_ = v.BindEnv("force_config", "MIHOMO_FORCE_CONFIG", "FORCE_CONFIG")
	_ = v.BindEnv("tier_fallback", "MIHOMO_TIER_FALLBACK", "TIER_FALLBACK")
	_ = v.BindEnv("release.version", "MIHOMO_RELEASE_VERSION", "MIHOMO_VERSION")
	_ = v.BindEnv("release.token", "MIHOMO_RELEASE_TOKEN", "GITHUB_TOKEN")

	return v
}

// LoadEnvFile loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. A missing optional file is not
// an error.
func LoadEnvFile(path string, required bool) (bool, error) {
	if path == "" {
		return false, nil
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !required {
			return false, nil
		}
		return false, fmt.Errorf("env file %s: %w", path, err)
	}

	if err := godotenv.Load(path); err != nil {
		return false, fmt.Errorf("failed to load env file %s: %w", path, err)
	}

	return true, nil
}

// Load reads an optional YAML options file into v, then binds and validates
// the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read options file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate normalizes derived values and checks every option.
func (c *Config) Validate() error {
	c.SubscriptionURL = strings.TrimSpace(c.SubscriptionURL)
	c.Controller = strings.TrimSpace(c.Controller)

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", errInvalidPort, c.Port)
	}

	host, port, err := net.SplitHostPort(c.Controller)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidController, err)
	}
	if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("%w: bad port %q", errInvalidController, port)
	}
	if host != "" && net.ParseIP(host) == nil {
		return fmt.Errorf("%w: %q is not an IP address", errInvalidController, host)
	}

	if c.SubscriptionURL != "" {
		u, err := url.Parse(c.SubscriptionURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q", errInvalidSubURL, c.SubscriptionURL)
		}
	}

	if owner, name := c.RepositoryParts(); owner == "" || name == "" {
		return fmt.Errorf("%w: %q", errInvalidRepository, c.Release.Repository)
	}

	switch c.Service.Supervisor {
	case "auto", "dbus", "systemctl":
	default:
		return fmt.Errorf("%w: %q", errInvalidSupervisor, c.Service.Supervisor)
	}

	switch c.UI.Backend {
	case "builtin", "git":
	default:
		return fmt.Errorf("%w: %q", errInvalidUIBackend, c.UI.Backend)
	}

	for name, d := range map[string]time.Duration{
		"connect":  c.Timeouts.Connect,
		"request":  c.Timeouts.Request,
		"download": c.Timeouts.Download,
		"clone":    c.Timeouts.Clone,
		"command":  c.Timeouts.Command,
		"run":      c.Timeouts.Run,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: timeouts.%s=%s", errInvalidTimeout, name, d)
		}
	}

	if c.Paths.UIDir == "" {
		c.Paths.UIDir = filepath.Join(c.Paths.ConfigDir, models.UIDirName)
	}
	if c.Release.BinaryName == "" {
		c.Release.BinaryName = filepath.Base(c.Paths.Binary)
	}
	if c.Service.RestartSec <= 0 {
		c.Service.RestartSec = 5
	}

	return nil
}

// ControllerHost returns the host part of the controller address.
func (c *Config) ControllerHost() string {
	host, _, _ := net.SplitHostPort(c.Controller)
	return host
}
