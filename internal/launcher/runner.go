// Package launcher starts the trainer for a resolved profile and streams
// its output.
//
// Two backends implement Runner: LocalRunner runs the interpreter as a
// child process, DockerRunner runs it in a labelled container with the
// input and model directories bind-mounted. Both return once the trainer
// has exited; a non-zero exit status is reported in Result, not as an
// error.
package launcher

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/mmr-tortoise/svbrdf-run/internal/args"
	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// RunIDEnv is set in the trainer's environment to the history run ID.
const RunIDEnv = "SVBRDF_RUN_ID"

// Job is one trainer invocation.
type Job struct {
	RunID      string
	Profile    *model.RunProfile
	Entrypoint args.Entrypoint
	StartedAt  time.Time

	// Stdout and Stderr receive the trainer's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// Result describes how a trainer invocation ended.
type Result struct {
	// ExitCode is the trainer's exit status; -1 when it was killed by a
	// signal.
	ExitCode int

	// Cancelled reports whether the run was interrupted through the
	// context rather than ending on its own.
	Cancelled bool

	// ContainerID is set by DockerRunner.
	ContainerID string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Status maps the result to a history status.
func (r *Result) Status() model.RunStatus {
	switch {
	case r.Cancelled:
		return model.StatusCancelled
	case r.ExitCode == 0:
		return model.StatusSucceeded
	default:
		return model.StatusFailed
	}
}

// Runner launches a job and blocks until the trainer exits.
type Runner interface {
	Run(ctx context.Context, job Job) (*Result, error)
}

// PythonUnbufferedEnv makes the trainer flush every progress line. Its
// stdout is a pipe or a container log, which Python would otherwise
// block-buffer.
const PythonUnbufferedEnv = "PYTHONUNBUFFERED"

// trainerEnv returns the variables added to the trainer's environment:
// PYTHONUNBUFFERED=1 unless the profile sets it, the profile variables
// and the run ID.
func trainerEnv(job Job) map[string]string {
	env := make(map[string]string, len(job.Profile.Env)+2)
	env[PythonUnbufferedEnv] = "1"
	for k, v := range job.Profile.Env {
		env[k] = v
	}
	env[RunIDEnv] = job.RunID
	return env
}

// environ returns trainerEnv as KEY=value pairs sorted by key.
func environ(job Job) []string {
	return sortedEnv(trainerEnv(job))
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func nopIfNil(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
