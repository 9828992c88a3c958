package cmdrunner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

func (r *CommandsRunner) Run(ctx context.Context, cmd string, args ...string) error {
	_, err := r.RunWithOutput(ctx, cmd, args...)
	return err
}

func (r *CommandsRunner) RunWithOutput(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd, args...)
	output, err := c.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Errorf("command failed: %s %v\n%s", cmd, args, string(output))
		return nil, fmt.Errorf("command error: %w\n%s", err, string(output))
	}
	return output, nil
}

func (r *CommandsRunner) RunAndTrimmedOutput(ctx context.Context, cmd string, args ...string) (string, error) {
	out, err := r.RunWithOutput(ctx, cmd, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// RunWithOutputNoErrLog runs a command and returns its output without logging errors.
// Useful for commands like "systemctl status" or "ld.so --help" where non-zero
// exit codes are expected.
func (r *CommandsRunner) RunWithOutputNoErrLog(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd, args...)
	output, err := c.CombinedOutput()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	// Don't log error - caller will handle it
	return output, err
}
