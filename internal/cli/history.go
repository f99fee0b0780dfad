package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/svbrdf-run/internal/args"
	"github.com/mmr-tortoise/svbrdf-run/internal/history"
	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// NewHistoryCommand creates the "history" command group.
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect previous runs",
	}
	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryPruneCommand())
	return cmd
}

func openHistory(ctx context.Context) (*history.Store, error) {
	store, err := history.Open(ctx, settings.HistoryPath)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to open run history", err)
	}
	VerboseLog("Using run history %s", store.Path())
	return store, nil
}

type historyListFlags struct {
	profile string
	status  string
	limit   int
}

func newHistoryListCommand() *cobra.Command {
	flags := &historyListFlags{}

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List runs, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := history.Filter{Profile: flags.profile, Limit: flags.limit}
			if flags.status != "" {
				s, err := model.ParseRunStatus(flags.status)
				if err != nil {
					return model.WrapCLIError(model.ExitGeneralError, "invalid --status", err)
				}
				filter.Status = s
			}

			store, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.List(cmd.Context(), filter)
			if err != nil {
				return model.WrapCLIError(model.ExitGeneralError, "failed to list runs", err)
			}
			if IsJSONOutput() {
				if runs == nil {
					runs = []*model.RunRecord{}
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"runs": runs})
			}
			printHistoryTable(cmd.OutOrStdout(), runs, time.Now())
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.profile, "profile", "", "Only runs of this profile")
	cmd.Flags().StringVar(&flags.status, "status", "", "Only runs with this status (running, succeeded, failed, cancelled)")
	cmd.Flags().IntVarP(&flags.limit, "limit", "n", 20, "Maximum number of runs (0 for all)")
	return cmd
}

func printHistoryTable(w io.Writer, runs []*model.RunRecord, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("Run", "Profile", "Mode", "Backend", "Status", "Exit", "Started", "Duration", "Epochs", "Best loss")
	for _, r := range runs {
		_ = table.Append([]string{
			r.ShortID(),
			r.Profile,
			r.Mode.String(),
			r.Backend.String(),
			r.Status.String(),
			strconv.Itoa(r.ExitCode),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			FormatDuration(r.Duration(now)),
			formatEpochs(r.Summary),
			formatBestLoss(r.Summary),
		})
	}
	_ = table.Render()
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run (a unique prefix of at least 4 characters is enough)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			store, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			r, err := store.Get(cmd.Context(), a[0])
			if err != nil {
				return err
			}
			if IsJSONOutput() {
				return printJSON(cmd.OutOrStdout(), r)
			}
			printRunDetail(cmd.OutOrStdout(), r, time.Now())
			return nil
		},
	}
}

func printRunDetail(w io.Writer, r *model.RunRecord, now time.Time) {
	fmt.Fprintf(w, "Run:      %s\n", r.ID)
	fmt.Fprintf(w, "Profile:  %s (%s, %s)\n", r.Profile, r.Mode, r.Backend)
	fmt.Fprintf(w, "Status:   %s", r.Status)
	if r.Status.IsFinal() {
		fmt.Fprintf(w, " (exit %d)", r.ExitCode)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Started:  %s\n", r.StartedAt.Local().Format(time.RFC3339))
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Finished: %s\n", r.FinishedAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Duration: %s\n", FormatDuration(r.Duration(now)))
	if r.GitCommit != "" {
		dirty := ""
		if r.GitDirty {
			dirty = " (modified)"
		}
		fmt.Fprintf(w, "Commit:   %s%s\n", r.GitCommit, dirty)
	}
	if r.ContainerID != "" {
		fmt.Fprintf(w, "Container: %s\n", shortContainerID(r.ContainerID))
	}
	fmt.Fprintf(w, "Command:  %s\n", args.Quote(r.Args))

	if s := r.Summary; s != nil && (s.Batches > 0 || s.LastValLoss != nil) {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Epochs:          %s\n", formatEpochs(s))
		fmt.Fprintf(w, "Batches:         %d\n", s.Batches)
		fmt.Fprintf(w, "Loss:            last %s, best %s\n", formatLoss(s.LastLoss), formatLoss(s.BestLoss))
		if s.LastValLoss != nil {
			fmt.Fprintf(w, "Validation loss: last %s, best %s (epoch %d)\n", formatLoss(s.LastValLoss), formatLoss(s.BestValLoss), s.BestValEpoch)
		}
		if s.TrainingSamples > 0 {
			fmt.Fprintf(w, "Samples:         %d training, %d validation\n", s.TrainingSamples, s.ValidationSamples)
		}
		if s.Renderer != "" {
			fmt.Fprintf(w, "Renderer:        %s\n", s.Renderer)
		}
		if s.CheckpointWrites > 0 {
			fmt.Fprintf(w, "Checkpoints:     %d written\n", s.CheckpointWrites)
		}
	}
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished runs older than a given age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return model.NewCLIError(model.ExitGeneralError, "--older-than must be positive")
			}
			store, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			n, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return model.WrapCLIError(model.ExitGeneralError, "failed to prune runs", err)
			}
			if IsJSONOutput() {
				return printJSON(cmd.OutOrStdout(), map[string]any{"pruned": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d run(s).\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Minimum age of the runs to delete")
	return cmd
}

func formatEpochs(s *model.Summary) string {
	if s == nil || (s.Batches == 0 && s.LastValLoss == nil) {
		return "-"
	}
	if s.TargetEpoch > 0 {
		return fmt.Sprintf("%d-%d/%d", s.FirstEpoch, s.LastEpoch, s.TargetEpoch)
	}
	return fmt.Sprintf("%d-%d", s.FirstEpoch, s.LastEpoch)
}

func formatBestLoss(s *model.Summary) string {
	if s == nil {
		return "-"
	}
	if s.BestValLoss != nil {
		return formatLoss(s.BestValLoss) + " (val)"
	}
	return formatLoss(s.BestLoss)
}

// FormatDuration renders d compactly: "45s", "12m05s", "3h02m".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func shortContainerID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
