package release

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/google/go-github/v55/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/huangyocai/mihomo-installer/internal/operations/probe"
)

type Resolver struct {
	client *github.Client
	opts   Options
	logger *logrus.Entry
}

// NewResolver builds a resolver on top of httpClient. A token, when set, is
// attached through an oauth2 transport wrapping httpClient's own transport.
func NewResolver(httpClient *http.Client, opts Options) (*Resolver, error) {
	if opts.Token != "" {
		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		httpClient = &http.Client{
			Timeout: httpClient.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}),
				Base:   base,
			},
		}
	}

	client := github.NewClient(httpClient)
	if opts.APIURL != "" {
		apiURL := opts.APIURL
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		u, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("invalid release api url: %w", err)
		}
		client.BaseURL = u
	}

	return &Resolver{
		client: client,
		opts:   opts,
		logger: logrus.WithField("component", "artifact-resolver"),
	}, nil
}

// FetchIndex returns the latest release, or the pinned one when a version is set
func (r *Resolver) FetchIndex(ctx context.Context) (*Index, error) {
	r.logger.WithFields(logrus.Fields{
		"repository": r.opts.Owner + "/" + r.opts.Repo,
		"version":    r.opts.Version,
	}).Info("Fetching release index")

	var (
		rel *github.RepositoryRelease
		err error
	)
	if r.opts.Version != "" {
		rel, _, err = r.client.Repositories.GetReleaseByTag(ctx, r.opts.Owner, r.opts.Repo, r.opts.Version)
	} else {
		rel, _, err = r.client.Repositories.GetLatestRelease(ctx, r.opts.Owner, r.opts.Repo)
	}
	if err != nil {
		r.logger.WithError(err).Error("Failed to fetch release index")
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	index := &Index{Tag: rel.GetTagName()}
	for _, a := range rel.Assets {
		index.Assets = append(index.Assets, Asset{
			Name:        a.GetName(),
			DownloadURL: a.GetBrowserDownloadURL(),
			Size:        int64(a.GetSize()),
		})
	}

	if len(index.Assets) == 0 {
		return nil, fmt.Errorf("%w: release %s", ErrEmptyIndex, index.Tag)
	}

	r.logger.WithFields(logrus.Fields{
		"tag":    index.Tag,
		"assets": len(index.Assets),
	}).Info("Successfully fetched release index")

	return index, nil
}

// Resolve picks the single asset matching the host's architecture and tier
func (r *Resolver) Resolve(ctx context.Context, env probe.EnvironmentDescriptor) (SelectedArtifact, error) {
	index, err := r.FetchIndex(ctx)
	if err != nil {
		return SelectedArtifact{}, err
	}

	tier := env.Tier
	pattern := AssetPattern(r.opts.BinaryName, env.Architecture, tier)
	var tried []string

	for {
		asset, err := SelectAsset(index.Assets, pattern)
		if err == nil {
			r.logger.WithFields(logrus.Fields{
				"asset":   asset.Name,
				"pattern": pattern,
				"tag":     index.Tag,
			}).Info("Selected release asset")

			return SelectedArtifact{Tag: index.Tag, Asset: asset, Pattern: pattern, Tier: tier}, nil
		}
		tried = append(tried, pattern)

		lower, ok := tier.Lower()
		if !r.opts.TierFallback || !ok {
			return SelectedArtifact{}, fmt.Errorf("%w for pattern %s in release %s", ErrNoMatchingAsset, strings.Join(tried, ", "), index.Tag)
		}

		next := AssetPattern(r.opts.BinaryName, env.Architecture, lower)
		r.logger.WithFields(logrus.Fields{
			"pattern":  pattern,
			"fallback": next,
		}).Warn("No asset for detected tier, falling back to a lower tier")

		tier, pattern = lower, next
	}
}

// AssetPattern returns the glob an asset name must match, e.g.
// mihomo-linux-amd64-v3-*.gz. The dash after the tier keeps v1 from matching
// an untiered mihomo-linux-amd64-v1.19.0.gz.
func AssetPattern(binary, arch string, tier probe.Tier) string {
	return fmt.Sprintf("%s-%s-%s-%s-*%s", binary, AssetPlatform, arch, tier, AssetExtension)
}

// SelectAsset returns the match with the shortest name, ties broken by the
// lexicographically smallest name. The result does not depend on listing order.
func SelectAsset(assets []Asset, pattern string) (Asset, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return Asset{}, fmt.Errorf("invalid asset pattern %s: %w", pattern, err)
	}

	var matches []Asset
	for _, a := range assets {
		if g.Match(a.Name) {
			matches = append(matches, a)
		}
	}

	if len(matches) == 0 {
		return Asset{}, fmt.Errorf("%w for pattern %s", ErrNoMatchingAsset, pattern)
	}

	sort.Slice(matches, func(i, j int) bool {
		if len(matches[i].Name) != len(matches[j].Name) {
			return len(matches[i].Name) < len(matches[j].Name)
		}
		return matches[i].Name < matches[j].Name
	})

	return matches[0], nil
}
