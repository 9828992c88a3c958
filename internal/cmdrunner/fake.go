package cmdrunner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// FakeResponse is the canned result for one command line.
type FakeResponse struct {
	Output []byte
	Err    error
}

// FakeRunner is an in-memory CommandRunner for tests. Responses are looked up
// by the full command line first, then by the command name alone.
type FakeRunner struct {
	mu        sync.Mutex
	Paths     map[string]string
	Responses map[string]FakeResponse
	Calls     []string
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		Paths:     map[string]string{},
		Responses: map[string]FakeResponse{},
	}
}

// On registers the response for a command line such as "systemctl restart mihomo.service".
func (f *FakeRunner) On(line string, output string, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[line] = FakeResponse{Output: []byte(output), Err: err}
	return f
}

// History returns a copy of every command line run so far.
func (f *FakeRunner) History() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

func (f *FakeRunner) LookPath(file string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.Paths[file]; ok {
		return p, nil
	}
	return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
}

func (f *FakeRunner) Run(ctx context.Context, cmd string, args ...string) error {
	_, err := f.RunWithOutput(ctx, cmd, args...)
	return err
}

func (f *FakeRunner) RunWithOutput(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	out, err := f.RunWithOutputNoErrLog(ctx, cmd, args...)
	if err != nil {
		return nil, fmt.Errorf("command error: %w\n%s", err, string(out))
	}
	return out, nil
}

func (f *FakeRunner) RunWithOutputNoErrLog(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	line := strings.TrimSpace(cmd + " " + strings.Join(args, " "))

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, line)

	if resp, ok := f.Responses[line]; ok {
		return resp.Output, resp.Err
	}
	if resp, ok := f.Responses[cmd]; ok {
		return resp.Output, resp.Err
	}
	return nil, nil
}

func (f *FakeRunner) RunAndTrimmedOutput(ctx context.Context, cmd string, args ...string) (string, error) {
	out, err := f.RunWithOutput(ctx, cmd, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
