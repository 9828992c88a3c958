package cmdrunner

import (
	"context"
	"os/exec"

	"github.com/huangyocai/mihomo-installer/pkg/logger"
)

// CommandRunner is the subset of process execution the installer needs.
// Probes, the smoke test and the systemctl supervisor depend on it so tests
// can substitute a fake.
type CommandRunner interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, cmd string, args ...string) error
	RunWithOutput(ctx context.Context, cmd string, args ...string) ([]byte, error)
	RunWithOutputNoErrLog(ctx context.Context, cmd string, args ...string) ([]byte, error)
	RunAndTrimmedOutput(ctx context.Context, cmd string, args ...string) (string, error)
}

type CommandsRunner struct {
	logger *logger.Logger
}

func NewCommandsRunner() *CommandsRunner {
	return &CommandsRunner{logger: logger.NewLogger("command_runner")}
}

// LookPath reports where an executable lives on PATH.
func (r *CommandsRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}
