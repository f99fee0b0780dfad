// Package dashboard serves the trainer's statistics with tensorboard.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mmr-tortoise/svbrdf-run/internal/model"
	"github.com/mmr-tortoise/svbrdf-run/internal/port"
	"github.com/mmr-tortoise/svbrdf-run/internal/preflight"
)

// Options selects what to serve and where.
type Options struct {
	// Binary is the tensorboard executable.
	Binary string

	ModelDir string

	// Port is a fixed port; zero picks the first free port in Ports.
	Port  int
	Ports port.Range
}

// Launch is a planned tensorboard invocation.
type Launch struct {
	Binary string `json:"binary"`
	LogDir string `json:"logDir"`
	Port   int    `json:"port"`
}

// URL is where the dashboard will be reachable.
func (l *Launch) URL() string {
	return "http://localhost:" + strconv.Itoa(l.Port)
}

// Command returns the full tensorboard command line.
func (l *Launch) Command() []string {
	return []string{l.Binary, "--logdir", l.LogDir, "--port", strconv.Itoa(l.Port), "--bind_all"}
}

// Plan checks that the model directory has statistics and picks a port.
//
// Returns a CLIError with ExitModelMissing when there is nothing to show
// and ExitPortAllocationFailed when no port is free.
func Plan(opts Options, scanner *port.Scanner) (*Launch, error) {
	logDir := filepath.Join(opts.ModelDir, preflight.LogsDirName)
	info, err := os.Stat(logDir)
	if err != nil || !info.IsDir() {
		return nil, model.NewCLIError(model.ExitModelMissing,
			fmt.Sprintf("no training statistics in %s; train the model first", logDir))
	}

	l := &Launch{Binary: opts.Binary, LogDir: logDir}
	if opts.Port > 0 {
		if !scanner.IsPortAvailable(opts.Port) {
			return nil, model.NewCLIError(model.ExitPortAllocationFailed,
				fmt.Sprintf("port %d is already in use", opts.Port))
		}
		l.Port = opts.Port
		return l, nil
	}

	p, err := scanner.FindAvailablePort(opts.Ports)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitPortAllocationFailed, "failed to allocate a dashboard port", err)
	}
	l.Port = p
	return l, nil
}

// Run starts tensorboard in the foreground and waits for it to exit.
// Cancelling ctx interrupts it; that is not reported as an error.
func (l *Launch) Run(ctx context.Context, stdout, stderr io.Writer) error {
	argv := l.Command()
	// #nosec G204 -- binary comes from the user's configuration
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return model.WrapCLIError(model.ExitFromProcess(exitErr.ExitCode()), "tensorboard failed", err)
		}
		return model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("failed to start %s (set tensorboard in the config)", l.Binary), err)
	}
	return nil
}
