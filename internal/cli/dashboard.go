package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mmr-tortoise/svbrdf-run/internal/dashboard"
	"github.com/mmr-tortoise/svbrdf-run/internal/port"
)

// NewDashboardCommand creates the "dashboard" command.
func NewDashboardCommand() *cobra.Command {
	var (
		fixedPort int
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "dashboard <profile>",
		Short: "Serve a profile's training statistics with tensorboard",
		Long: `Start tensorboard on the statistics the trainer writes to
<model-dir>/logs. A free port in dashboard.ports (default 6006-6106) is
used unless --port is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			p, err := resolveProfile(a[0])
			if err != nil {
				return err
			}

			l, err := dashboard.Plan(dashboard.Options{
				Binary:   settings.Tensorboard,
				ModelDir: p.ModelDir,
				Port:     fixedPort,
				Ports:    settings.DashboardPorts,
			}, port.NewScanner())
			if err != nil {
				return err
			}

			if IsJSONOutput() {
				if err := printJSON(cmd.OutOrStdout(), map[string]any{"dashboard": l, "url": l.URL()}); err != nil {
					return err
				}
			} else if !dryRun {
				logger.Info("starting dashboard", zap.String("url", l.URL()), zap.String("logdir", l.LogDir))
			}
			if dryRun {
				if !IsJSONOutput() {
					fmt.Fprintln(cmd.OutOrStdout(), l.URL())
				}
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return l.Run(ctx, cmd.ErrOrStderr(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().IntVar(&fixedPort, "port", 0, "Port to serve on (default: first free port in dashboard.ports)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the URL without starting tensorboard")
	return cmd
}
