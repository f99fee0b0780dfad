// Package cli: remove.go implements the "svbrdf-run rm" command.
//
// rm deletes a trainer container kept with --keep. A running container
// is only removed with --force, after confirmation unless --yes is given.
// The model directory on the host is never touched.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/svbrdf-run/internal/docker"
	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// removeFlags holds the flag values for the rm command.
type removeFlags struct {
	// force removes a running container, killing the trainer.
	force bool

	// yes skips the confirmation prompt.
	yes bool
}

// NewRemoveCommand creates the "rm" cobra command.
func NewRemoveCommand() *cobra.Command {
	flags := &removeFlags{}

	cmd := &cobra.Command{
		Use:     "rm <run-id>",
		Aliases: []string{"remove"},
		Short:   "Remove a trainer container",
		Long: `Remove the trainer container of a run. Checkpoints and statistics live
in the model directory on the host and are kept.

Examples:
  svbrdf-run rm 6f1c2d3e
  svbrdf-run rm --force --yes 6f1c2d3e`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			return runRemove(cmd.Context(), cmd.OutOrStdout(), cmd.InOrStdin(), a[0], flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "Remove a running container")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func runRemove(ctx context.Context, w io.Writer, in io.Reader, runID string, flags *removeFlags) error {
	cli, run, err := findManagedRun(ctx, runID)
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	running := run.State == "running"
	if running && !flags.force {
		return model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("run %s is still running; stop it first or pass --force", ShortRunID(run.RunID)))
	}

	if running && !flags.yes {
		confirmed, err := promptConfirmation(w, in, run)
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to read user input", err)
		}
		if !confirmed {
			return model.NewCLIError(model.ExitUserCancelled, "operation cancelled by user")
		}
	}

	VerboseLog("Removing container %s...", run.ContainerName)
	if err := docker.RemoveContainer(ctx, cli, run.ContainerID, flags.force); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(w, map[string]any{"runId": run.RunID, "container": run.ContainerName, "status": "removed"})
	}
	fmt.Fprintf(w, "Removed run %s (container %s)\n", ShortRunID(run.RunID), run.ContainerName)
	return nil
}

// promptConfirmation asks before killing a running trainer.
func promptConfirmation(w io.Writer, in io.Reader, run *docker.RunContainer) (bool, error) {
	fmt.Fprintf(w, "Run %s (%s, profile %s) is still running.\n", ShortRunID(run.RunID), run.Mode, run.Profile)
	fmt.Fprintln(w, "  - the trainer will be killed without saving a final checkpoint")
	fmt.Fprintf(w, "  - container %s will be removed\n", run.ContainerName)
	fmt.Fprint(w, "\nContinue? [y/N] ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
		return answer == "y" || answer == "yes", nil
	}
	return false, scanner.Err()
}
