package probe

import "errors"

// Tier is an x86-64 microarchitecture level
type Tier string

const (
	TierV1 Tier = "v1"
	TierV2 Tier = "v2"
	TierV3 Tier = "v3"
)

// Lower returns the next lower tier, false when t is already the lowest.
func (t Tier) Lower() (Tier, bool) {
	switch t {
	case TierV3:
		return TierV2, true
	case TierV2:
		return TierV1, true
	default:
		return "", false
	}
}

// PackageManager is the host package manager family
type PackageManager string

const (
	PackageManagerDnf  PackageManager = "dnf"
	PackageManagerYum  PackageManager = "yum"
	PackageManagerApt  PackageManager = "apt"
	PackageManagerNone PackageManager = "none"
)

// Sources that can decide the tier
const (
	TierSourceLoader  = "ld.so"
	TierSourceCPUID   = "cpuid"
	TierSourceDefault = "default"
)

// EnvironmentDescriptor is computed once per run and passed by value.
type EnvironmentDescriptor struct {
	Machine        string
	Architecture   string
	Tier           Tier
	TierSource     string
	PackageManager PackageManager
}

// Constants
const (
	DefaultLoaderPath = "/lib64/ld-linux-x86-64.so.2"
	SupportedMachine  = "x86_64"
	AssetArchitecture = "amd64"
)

var (
	ErrUnsupportedArchitecture = errors.New("unsupported architecture")
	ErrNoPackageManager        = errors.New("no supported package manager found")
)
