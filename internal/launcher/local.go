package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmr-tortoise/svbrdf-run/internal/args"
	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// LocalRunner runs the trainer as a child process.
type LocalRunner struct {
	// StopGrace is how long the trainer gets to exit after SIGINT when the
	// context is cancelled before it is killed.
	StopGrace time.Duration

	Logger *zap.Logger
}

// NewLocalRunner creates a LocalRunner.
func NewLocalRunner(grace time.Duration, logger *zap.Logger) *LocalRunner {
	return &LocalRunner{StopGrace: grace, Logger: nopIfNil(logger)}
}

// Run starts the interpreter in the directory of the trainer script and
// copies its output to the job's writers until it exits.
func (r *LocalRunner) Run(ctx context.Context, job Job) (*Result, error) {
	log := nopIfNil(r.Logger)

	ep, err := absEntrypoint(job.Entrypoint)
	if err != nil {
		return nil, err
	}
	argv := args.Command(ep, job.Profile)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = filepath.Dir(ep.Script)
	cmd.Env = append(os.Environ(), environ(job)...)
	// Interrupt first so the trainer can close its statistics writer; the
	// runtime kills it once WaitDelay expires.
	cmd.Cancel = func() error {
		log.Info("interrupting trainer", zap.Int("pid", cmd.Process.Pid), zap.Duration("grace", r.StopGrace))
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = r.StopGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("trainer stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("trainer stderr: %w", err)
	}

	log.Debug("starting trainer", zap.Strings("argv", argv), zap.String("dir", cmd.Dir))
	result := &Result{StartedAt: time.Now()}
	if err := cmd.Start(); err != nil {
		return nil, model.WrapCLIError(
			model.ExitGeneralError,
			fmt.Sprintf("failed to start %s", argv[0]),
			err,
		)
	}

	var g errgroup.Group
	g.Go(func() error { return copyStream(writerOrDiscard(job.Stdout), stdout) })
	g.Go(func() error { return copyStream(writerOrDiscard(job.Stderr), stderr) })
	copyErr := g.Wait()

	waitErr := cmd.Wait()
	result.FinishedAt = time.Now()
	result.Cancelled = ctx.Err() != nil

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		result.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	case result.Cancelled:
		result.ExitCode = -1
	default:
		return result, fmt.Errorf("wait for trainer: %w", waitErr)
	}

	if copyErr != nil && !result.Cancelled {
		log.Warn("trainer output was cut short", zap.Error(copyErr))
	}
	log.Debug("trainer exited", zap.Int("exitCode", result.ExitCode), zap.Bool("cancelled", result.Cancelled))
	return result, nil
}

// copyStream copies until EOF. A pipe closed by Wait after the grace
// period is not an error.
func copyStream(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// absEntrypoint makes the script path absolute so it survives the change
// of working directory.
func absEntrypoint(ep args.Entrypoint) (args.Entrypoint, error) {
	if ep.Script == "" {
		return ep, model.NewCLIError(model.ExitGeneralError, "no trainer entrypoint configured")
	}
	abs, err := filepath.Abs(ep.Script)
	if err != nil {
		return ep, fmt.Errorf("resolve entrypoint %q: %w", ep.Script, err)
	}
	ep.Script = abs
	return ep, nil
}

// sortedEnv renders env as KEY=value pairs sorted by key.
func sortedEnv(env map[string]string) []string {
	out := make([]string, 0, len(env)+1)
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
