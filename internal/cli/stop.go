// Package cli: stop.go implements the "svbrdf-run stop" command.
//
// stop sends the trainer container SIGTERM and kills it after the
// configured grace period. The run in progress records itself as
// cancelled when its launcher sees the container exit.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/svbrdf-run/internal/docker"
	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// NewStopCommand creates the "stop" cobra command.
func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <run-id>",
		Short: "Stop a running trainer container",
		Long: `Stop the trainer container of a run. A unique prefix of the run ID is
enough; "svbrdf-run ps" lists them.

Examples:
  svbrdf-run stop 6f1c2d3e`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			return runStop(cmd.Context(), cmd.OutOrStdout(), a[0])
		},
	}
}

func runStop(ctx context.Context, w io.Writer, runID string) error {
	cli, run, err := findManagedRun(ctx, runID)
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	if run.State != "running" {
		VerboseLog("Container %s is already %s", run.ContainerName, run.State)
	} else {
		VerboseLog("Stopping container %s...", run.ContainerName)
		if err := docker.StopContainer(ctx, cli, run.ContainerID, settings.StopGrace); err != nil {
			return err
		}
	}

	if IsJSONOutput() {
		return printJSON(w, map[string]any{"runId": run.RunID, "container": run.ContainerName, "status": "stopped"})
	}
	fmt.Fprintf(w, "Stopped run %s (container %s)\n", ShortRunID(run.RunID), run.ContainerName)
	return nil
}

// findManagedRun connects to Docker and finds the container of runID.
// The caller closes the returned client.
func findManagedRun(ctx context.Context, runID string) (*docker.Client, *docker.RunContainer, error) {
	cli, err := docker.NewClient()
	if err != nil {
		return nil, nil, err
	}

	runs, err := docker.ListManagedRuns(ctx, cli)
	if err != nil {
		_ = cli.Close()
		return nil, nil, err
	}
	run, err := docker.FindRun(runs, runID)
	if err != nil {
		_ = cli.Close()
		return nil, nil, err
	}
	if run.ContainerID == "" {
		_ = cli.Close()
		return nil, nil, model.NewCLIError(model.ExitRunNotFound, fmt.Sprintf("run %s has no container", runID))
	}
	return cli, run, nil
}
