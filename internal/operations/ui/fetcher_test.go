package ui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huangyocai/mihomo-installer/internal/cmdrunner"
)

type fakeCloner struct {
	unavailable error
	cloneErr    error
	cloned      []string
}

func (c *fakeCloner) Name() string     { return "fake" }
func (c *fakeCloner) Available() error { return c.unavailable }

func (c *fakeCloner) Clone(ctx context.Context, url, branch, dest string) (string, error) {
	c.cloned = append(c.cloned, url+"@"+branch)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dest, "index.html"), []byte("<html></html>"), 0o644); err != nil {
		return "", err
	}
	if c.cloneErr != nil {
		return "", c.cloneErr
	}
	return "0123abcd", nil
}

type fakeEditor struct {
	path string
	err  error
}

func (e *fakeEditor) SetExternalUI(uiPath string) (bool, error) {
	if e.err != nil {
		return false, e.err
	}
	changed := e.path != uiPath
	e.path = uiPath
	return changed, nil
}

type fakeRestarter struct {
	calls int
	err   error
}

func (r *fakeRestarter) Restart(ctx context.Context) error {
	r.calls++
	return r.err
}

func testOptions(t *testing.T) Options {
	return Options{
		Enabled:      true,
		Repository:   "https://github.com/MetaCubeX/metacubexd.git",
		Branch:       "gh-pages",
		Dir:          filepath.Join(t.TempDir(), "mihomo", "ui"),
		CloneTimeout: time.Second,
	}
}

func TestFetch_Disabled(t *testing.T) {
	opts := testOptions(t)
	opts.Enabled = false
	cloner := &fakeCloner{}

	result := NewFetcher(opts, cloner, &fakeEditor{}, nil).Fetch(context.Background())

	assert.False(t, result.Requested)
	assert.True(t, result.Skipped)
	assert.Empty(t, cloner.cloned)
	_, err := os.Stat(opts.Dir)
	assert.True(t, os.IsNotExist(err))
}

func TestFetch_InstallsAndRestarts(t *testing.T) {
	opts := testOptions(t)
	require.NoError(t, os.MkdirAll(opts.Dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(opts.Dir, "stale.js"), []byte("old"), 0o644))

	cloner := &fakeCloner{}
	editor := &fakeEditor{}
	restarter := &fakeRestarter{}

	result := NewFetcher(opts, cloner, editor, restarter).Fetch(context.Background())

	assert.True(t, result.Installed)
	assert.False(t, result.Skipped)
	assert.Equal(t, "0123abcd", result.Revision)
	assert.True(t, result.ConfigUpdated)
	assert.True(t, result.Restarted)
	assert.Equal(t, opts.Dir, editor.path)
	assert.Equal(t, 1, restarter.calls)
	assert.Equal(t, []string{opts.Repository + "@gh-pages"}, cloner.cloned)

	assert.FileExists(t, filepath.Join(opts.Dir, "index.html"))
	assert.NoFileExists(t, filepath.Join(opts.Dir, "stale.js"))
}

func TestFetch_NoRestarter(t *testing.T) {
	result := NewFetcher(testOptions(t), &fakeCloner{}, &fakeEditor{}, nil).Fetch(context.Background())

	assert.True(t, result.Installed)
	assert.False(t, result.Restarted)
}

func TestFetch_ClonerUnavailable(t *testing.T) {
	opts := testOptions(t)
	cloner := &fakeCloner{unavailable: errors.New("git not found")}

	result := NewFetcher(opts, cloner, &fakeEditor{}, &fakeRestarter{}).Fetch(context.Background())

	assert.True(t, result.Requested)
	assert.True(t, result.Skipped)
	assert.False(t, result.Installed)
	assert.Contains(t, result.Reason, "git not found")
	assert.Empty(t, cloner.cloned)
}

func TestFetch_CloneFailureRemovesPartialDir(t *testing.T) {
	opts := testOptions(t)
	cloner := &fakeCloner{cloneErr: errors.New("connection reset")}
	editor := &fakeEditor{}
	restarter := &fakeRestarter{}

	result := NewFetcher(opts, cloner, editor, restarter).Fetch(context.Background())

	assert.True(t, result.Skipped)
	assert.False(t, result.Installed)
	assert.Contains(t, result.Reason, "connection reset")
	assert.Empty(t, editor.path)
	assert.Zero(t, restarter.calls)
	_, err := os.Stat(opts.Dir)
	assert.True(t, os.IsNotExist(err))
}

func TestFetch_ConfigUpdateFailureIsSoft(t *testing.T) {
	restarter := &fakeRestarter{}
	result := NewFetcher(testOptions(t), &fakeCloner{}, &fakeEditor{err: errors.New("not a mapping")}, restarter).
		Fetch(context.Background())

	assert.True(t, result.Installed)
	assert.False(t, result.ConfigUpdated)
	assert.Contains(t, result.Reason, "not a mapping")
	assert.Zero(t, restarter.calls)
}

func TestFetch_RestartFailureIsSoft(t *testing.T) {
	restarter := &fakeRestarter{err: errors.New("unit not found")}
	result := NewFetcher(testOptions(t), &fakeCloner{}, &fakeEditor{}, restarter).Fetch(context.Background())

	assert.True(t, result.Installed)
	assert.True(t, result.ConfigUpdated)
	assert.False(t, result.Restarted)
}

func TestCLICloner(t *testing.T) {
	runner := cmdrunner.NewFakeRunner().
		On("git -C /tmp/ui rev-parse HEAD", "deadbeef\n", nil)
	runner.Paths["git"] = "/usr/bin/git"

	c, err := NewCloner(BackendGit, runner)
	require.NoError(t, err)
	require.NoError(t, c.Available())

	rev, err := c.Clone(context.Background(), "https://example.com/ui.git", "gh-pages", "/tmp/ui")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", rev)
	assert.Equal(t, []string{
		"git clone --depth 1 --single-branch --branch gh-pages https://example.com/ui.git /tmp/ui",
		"git -C /tmp/ui rev-parse HEAD",
	}, runner.History())
}

func TestCLICloner_Unavailable(t *testing.T) {
	c, err := NewCloner(BackendGit, cmdrunner.NewFakeRunner())
	require.NoError(t, err)
	assert.ErrorContains(t, c.Available(), "git not found")
}

func TestNewCloner(t *testing.T) {
	c, err := NewCloner("", nil)
	require.NoError(t, err)
	assert.Equal(t, BackendBuiltin, c.Name())
	assert.NoError(t, c.Available())

	_, err = NewCloner("svn", nil)
	assert.Error(t, err)
}
