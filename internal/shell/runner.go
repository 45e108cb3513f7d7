// Package shell runs the external tools the pipeline drives (apt-get,
// rustup, cargo) and captures their combined output for error reporting.
package shell

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/thomas-vilte/releasepipe/internal/logger"
)

// Command is one external process invocation.
type Command struct {
	Dir  string
	Env  []string
	Name string
	Args []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes commands. Output is stdout and stderr combined.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

type ExecRunner struct{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	log := logger.FromContext(ctx)

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)

	start := time.Now()
	log.Debug("running command", "command", c.String(), "dir", c.Dir)

	output, err := cmd.CombinedOutput()

	log.Debug("command finished",
		"command", c.String(),
		"duration", time.Since(start).Round(time.Millisecond),
		"error", err)

	return output, err
}
