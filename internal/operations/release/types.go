package release

import (
	"errors"

	"github.com/huangyocai/mihomo-installer/internal/operations/probe"
)

// Asset is one downloadable file attached to a release
type Asset struct {
	Name        string
	DownloadURL string
	Size        int64
}

// Index is the asset listing of a single release
type Index struct {
	Tag    string
	Assets []Asset
}

// SelectedArtifact is the asset chosen for this host
type SelectedArtifact struct {
	Tag     string
	Asset   Asset
	Pattern string
	Tier    probe.Tier
}

// Options configure where the index is fetched from
type Options struct {
	Owner        string
	Repo         string
	Version      string
	APIURL       string
	Token        string
	BinaryName   string
	TierFallback bool
}

const (
	AssetPlatform  = "linux"
	AssetExtension = ".gz"
)

var (
	ErrIndexUnavailable = errors.New("release index unavailable")
	ErrEmptyIndex       = errors.New("release index has no assets")
	ErrNoMatchingAsset  = errors.New("no matching asset")
)
