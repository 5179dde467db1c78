package datagen

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/SzilBalazs/bctools/internal/domain"
	"github.com/SzilBalazs/bctools/internal/infra/logger"
)

// CLIGenerator runs the engine's data generator:
//
//	<BinaryPath> <Command> <share> <worker-id>
type CLIGenerator struct {
	BinaryPath string
	Command    string
	WorkDir    string

	// Timeout bounds a single worker; 0 waits forever.
	Timeout time.Duration

	Log *logger.Logger
}

func NewCLIGenerator(binaryPath, command, workDir string, timeout time.Duration, log *logger.Logger) *CLIGenerator {
	if log == nil {
		log = logger.NewNop()
	}
	return &CLIGenerator{
		BinaryPath: binaryPath,
		Command:    command,
		WorkDir:    workDir,
		Timeout:    timeout,
		Log:        log,
	}
}

// Args returns the command line arguments for task, without the binary.
func (g *CLIGenerator) Args(task domain.WorkerTask) []string {
	return []string{g.Command, strconv.FormatInt(task.Share, 10), strconv.Itoa(task.WorkerID)}
}

func (g *CLIGenerator) Run(ctx context.Context, task domain.WorkerTask) (int, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, g.BinaryPath, g.Args(task)...)
	cmd.Dir = g.WorkDir

	out := g.Log.Lines(fmt.Sprintf("worker %d", task.WorkerID))
	defer out.Close()
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return -1, &domain.LaunchError{WorkerID: task.WorkerID, Err: err}
	}

	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}

	// A worker killed for a timeout or cancel is not an engine failure
	if ctx.Err() != nil {
		return -1, fmt.Errorf("worker %d: %w", task.WorkerID, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), &domain.WorkerExitError{WorkerID: task.WorkerID, ExitCode: exitErr.ExitCode()}
	}

	return -1, &domain.LaunchError{WorkerID: task.WorkerID, Err: err}
}
