package ui

import (
	"context"
	"fmt"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/huangyocai/mihomo-installer/internal/cmdrunner"
)

// Cloner performs a shallow single-branch clone and returns the checked out revision
type Cloner interface {
	Name() string
	Available() error
	Clone(ctx context.Context, url, branch, dest string) (string, error)
}

// Backend names accepted by NewCloner
const (
	BackendBuiltin = "builtin"
	BackendGit     = "git"
)

func NewCloner(backend string, runner cmdrunner.CommandRunner) (Cloner, error) {
	switch backend {
	case BackendBuiltin, "":
		return &GoGitCloner{}, nil
	case BackendGit:
		return &CLICloner{runner: runner}, nil
	default:
		return nil, fmt.Errorf("unknown ui backend: %s", backend)
	}
}

// GoGitCloner clones in-process
type GoGitCloner struct{}

func (c *GoGitCloner) Name() string { return BackendBuiltin }

func (c *GoGitCloner) Available() error { return nil }

func (c *GoGitCloner) Clone(ctx context.Context, url, branch, dest string) (string, error) {
	repo, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:           url,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Depth:         1,
		Tags:          git.NoTags,
	})
	if err != nil {
		return "", err
	}

	// The revision is informational only
	head, herr := repo.Head()
	if herr != nil {
		return "", nil
	}
	return head.Hash().String(), nil
}

// CLICloner shells out to the git binary
type CLICloner struct {
	runner cmdrunner.CommandRunner
}

func (c *CLICloner) Name() string { return BackendGit }

func (c *CLICloner) Available() error {
	if _, err := c.runner.LookPath("git"); err != nil {
		return fmt.Errorf("git not found on PATH: %w", err)
	}
	return nil
}

func (c *CLICloner) Clone(ctx context.Context, url, branch, dest string) (string, error) {
	if err := c.runner.Run(ctx, "git", "clone", "--depth", "1", "--single-branch", "--branch", branch, url, dest); err != nil {
		return "", err
	}

	// The revision is informational only
	rev, rerr := c.runner.RunAndTrimmedOutput(ctx, "git", "-C", dest, "rev-parse", "HEAD")
	if rerr != nil {
		return "", nil
	}
	return strings.TrimSpace(rev), nil
}
