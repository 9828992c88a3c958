package probe

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/huangyocai/mihomo-installer/internal/cmdrunner"
)

var loaderTierPattern = regexp.MustCompile(`x86-64-v([1-4])\s+\(supported`)

// package managers in priority order, binary name -> family
var packageManagers = []struct {
	binary string
	family PackageManager
}{
	{"dnf", PackageManagerDnf},
	{"yum", PackageManagerYum},
	{"apt-get", PackageManagerApt},
}

type Prober struct {
	LoaderPath string
	Uname      func() (string, error)
	CPULevel   func() int
	runner     cmdrunner.CommandRunner
	timeout    time.Duration
	logger     *logrus.Entry
}

func NewProber(runner cmdrunner.CommandRunner, timeout time.Duration) *Prober {
	return &Prober{
		LoaderPath: DefaultLoaderPath,
		Uname:      unameMachine,
		CPULevel:   cpuid.CPU.X64Level,
		runner:     runner,
		timeout:    timeout,
		logger:     logrus.WithField("component", "capability-prober"),
	}
}

// Probe inspects the host and returns its environment descriptor
func (p *Prober) Probe(ctx context.Context) (EnvironmentDescriptor, error) {
	var env EnvironmentDescriptor

	machine, err := p.Uname()
	if err != nil {
		return env, fmt.Errorf("failed to read machine architecture: %w", err)
	}
	if machine != SupportedMachine && machine != AssetArchitecture {
		return env, fmt.Errorf("%w: %s (only %s is supported)", ErrUnsupportedArchitecture, machine, SupportedMachine)
	}
	env.Machine = machine
	env.Architecture = AssetArchitecture

	env.Tier, env.TierSource = p.detectTier(ctx)

	pm, err := p.detectPackageManager()
	if err != nil {
		return env, err
	}
	env.PackageManager = pm

	p.logger.WithFields(logrus.Fields{
		"arch":            env.Architecture,
		"tier":            env.Tier,
		"tier_source":     env.TierSource,
		"package_manager": env.PackageManager,
	}).Info("Host capabilities detected")

	return env, nil
}

// detectTier asks the dynamic loader first, then CPUID, then defaults to v1
func (p *Prober) detectTier(ctx context.Context) (Tier, string) {
	if tier, ok := p.loaderTier(ctx); ok {
		return tier, TierSourceLoader
	}

	if p.CPULevel != nil {
		if tier, ok := tierFromLevel(p.CPULevel()); ok {
			p.logger.WithField("tier", tier).Debug("Loader inconclusive, using CPUID level")
			return tier, TierSourceCPUID
		}
	}

	p.logger.Warn("Could not detect microarchitecture tier, defaulting to v1")
	return TierV1, TierSourceDefault
}

func (p *Prober) loaderTier(ctx context.Context) (Tier, bool) {
	if _, err := os.Stat(p.LoaderPath); err != nil {
		p.logger.WithField("loader", p.LoaderPath).Debug("Dynamic loader not found")
		return "", false
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	output, err := p.runner.RunWithOutputNoErrLog(cctx, p.LoaderPath, "--help")
	if err != nil && len(output) == 0 {
		p.logger.WithError(err).Debug("Dynamic loader did not report hwcaps")
		return "", false
	}

	return ParseLoaderTiers(string(output))
}

// ParseLoaderTiers returns the highest supported tier (capped at v3) found in
// the glibc-hwcaps section of `ld.so --help` output.
func ParseLoaderTiers(output string) (Tier, bool) {
	best := 0
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		m := loaderTierPattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		level := int(m[1][0] - '0')
		if level > best {
			best = level
		}
	}

	return tierFromLevel(best)
}

func tierFromLevel(level int) (Tier, bool) {
	switch {
	case level >= 3:
		return TierV3, true
	case level == 2:
		return TierV2, true
	case level == 1:
		return TierV1, true
	default:
		return "", false
	}
}

func (p *Prober) detectPackageManager() (PackageManager, error) {
	for _, pm := range packageManagers {
		if path, err := p.runner.LookPath(pm.binary); err == nil {
			p.logger.WithField("path", path).Debug("Package manager found")
			return pm.family, nil
		}
	}

	return PackageManagerNone, fmt.Errorf("%w: looked for dnf, yum and apt-get on PATH", ErrNoPackageManager)
}

func unameMachine() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(uts.Machine[:]), nil
}
