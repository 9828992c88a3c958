package proxyconfig

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/aymanbagabas/go-udiff"
	"github.com/sirupsen/logrus"

	"github.com/huangyocai/mihomo-installer/internal/operations/common"
	"github.com/huangyocai/mihomo-installer/pkg/tools"
)

const (
	ConfigMode                 = os.FileMode(0o600)
	SecretLength               = 24
	secretAlphabet             = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	PlaceholderSubscriptionURL = "https://replace-with-your-subscription.invalid/sub"
)

var (
	ErrInvalidParams = errors.New("invalid config parameters")
)

// Params are the values substituted into the config template
type Params struct {
	Port              int
	Controller        string
	Secret            string
	SubscriptionURL   string
	UIPath            string
	GeoMirror         string
	GeoUpdateInterval int
	Force             bool
}

// MaterializeResult reports what happened to the config file
type MaterializeResult struct {
	Path                    string
	Skipped                 bool
	BackupPath              string
	Secret                  string
	SecretGenerated         bool
	PlaceholderSubscription bool
}

type Materializer struct {
	path   string
	now    func() time.Time
	random io.Reader
	logger *logrus.Entry
}

func NewMaterializer(path string) *Materializer {
	return &Materializer{
		path:   path,
		now:    time.Now,
		random: rand.Reader,
		logger: logrus.WithField("component", "config-materializer"),
	}
}

// Path returns the config file location
func (m *Materializer) Path() string {
	return m.path
}

// Materialize writes the config unless one already exists and Force is unset.
// An overwritten config is backed up first.
func (m *Materializer) Materialize(p Params) (MaterializeResult, error) {
	result := MaterializeResult{Path: m.path}

	if err := validateParams(p); err != nil {
		return result, err
	}

	old, err := os.ReadFile(m.path)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return result, fmt.Errorf("failed to read existing config: %w", err)
	}

	if exists && !p.Force {
		m.logger.WithField("path", m.path).Info("Config already exists, skipping (set force_config to overwrite)")
		result.Skipped = true
		return result, nil
	}

	if p.Secret == "" {
		secret, err := GenerateSecret(m.random)
		if err != nil {
			return result, err
		}
		p.Secret = secret
		result.SecretGenerated = true
	}
	result.Secret = p.Secret

	if p.SubscriptionURL == "" {
		p.SubscriptionURL = PlaceholderSubscriptionURL
		result.PlaceholderSubscription = true
		m.logger.Warn("!!! No subscription URL provided: the config points at a placeholder provider and mihomo will have no proxies until you edit " + m.path + " !!!")
	}

	rendered, err := NewDocument(p).Render()
	if err != nil {
		return result, err
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return result, fmt.Errorf("failed to create config directory: %w", err)
	}

	if exists {
		backup, err := common.BackupFile(m.logger, m.path, m.now())
		if err != nil {
			return result, fmt.Errorf("failed to back up config: %w", err)
		}
		result.BackupPath = backup
		m.logDiff(old, rendered, p.Secret)
	}

	if err := common.WriteFileAtomic(m.path, bytes.NewReader(rendered), ConfigMode); err != nil {
		return result, err
	}

	m.logger.WithFields(logrus.Fields{
		"path":   m.path,
		"backup": result.BackupPath,
		"port":   p.Port,
	}).Info("Config written")

	return result, nil
}

// logDiff logs old vs new at debug level with the secret redacted
func (m *Materializer) logDiff(old, rendered []byte, secret string) {
	if !m.logger.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}

	oldText := tools.RedactSecret(string(old), extractSecret(old))
	newText := tools.RedactSecret(string(rendered), secret)
	diff := udiff.Unified(m.path+" (previous)", m.path, oldText, newText)
	if diff == "" {
		m.logger.Debug("Config unchanged by overwrite")
		return
	}
	m.logger.Debugf("Config changes:\n%s", diff)
}

// GenerateSecret returns SecretLength characters drawn uniformly from [A-Za-z0-9]
func GenerateSecret(random io.Reader) (string, error) {
	limit := big.NewInt(int64(len(secretAlphabet)))
	buf := make([]byte, SecretLength)
	for i := range buf {
		n, err := rand.Int(random, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate secret: %w", err)
		}
		buf[i] = secretAlphabet[n.Int64()]
	}
	return string(buf), nil
}

func validateParams(p Params) error {
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidParams, p.Port)
	}
	if _, _, err := tools.SplitBindAddress(p.Controller); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if p.SubscriptionURL != "" {
		u, err := url.Parse(p.SubscriptionURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: subscription url %q is not http(s)", ErrInvalidParams, p.SubscriptionURL)
		}
	}
	return nil
}
