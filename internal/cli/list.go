// Package cli: list.go implements the "svbrdf-run ps" command.
//
// ps lists the trainer containers started by the docker backend, found
// through their "svbrdf.managed-by=svbrdf-run" label. Stopped containers
// kept with --keep are listed too.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/svbrdf-run/internal/docker"
)

// psFlags holds the flag values for the ps command.
type psFlags struct {
	// running hides containers that have exited.
	running bool
}

// NewPsCommand creates the "ps" cobra command.
func NewPsCommand() *cobra.Command {
	flags := &psFlags{}

	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List trainer containers",
		Long: `List the trainer containers started with the docker backend.

Examples:
  svbrdf-run ps
  svbrdf-run ps --running
  svbrdf-run ps --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPs(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().BoolVar(&flags.running, "running", false, "Only show running containers")
	return cmd
}

func runPs(ctx context.Context, w io.Writer, flags *psFlags) error {
	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Ping(ctx); err != nil {
		return err
	}
	VerboseLog("Connected to Docker daemon")

	runs, err := docker.ListManagedRuns(ctx, cli)
	if err != nil {
		return err
	}
	runs = filterRuns(runs, flags.running)

	if IsJSONOutput() {
		return printJSON(w, map[string]any{"containers": runs})
	}
	printPsTable(w, runs, time.Now())
	return nil
}

// filterRuns drops exited containers when runningOnly is set.
func filterRuns(runs []docker.RunContainer, runningOnly bool) []docker.RunContainer {
	out := make([]docker.RunContainer, 0, len(runs))
	for _, r := range runs {
		if runningOnly && r.State != "running" {
			continue
		}
		out = append(out, r)
	}
	return out
}

func printPsTable(w io.Writer, runs []docker.RunContainer, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No trainer containers found.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("Run", "Profile", "Mode", "State", "Age", "Container", "Model")
	for _, r := range runs {
		_ = table.Append([]string{
			ShortRunID(r.RunID),
			r.Profile,
			r.Mode.String(),
			r.State,
			FormatDuration(now.Sub(r.StartedAt)),
			r.ContainerName,
			r.ModelDir,
		})
	}
	_ = table.Render()
}

// ShortRunID returns the first 8 characters of a run ID.
func ShortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
