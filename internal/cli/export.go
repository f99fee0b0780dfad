package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/svbrdf-run/internal/model"
	"github.com/mmr-tortoise/svbrdf-run/internal/profile"
)

// exportFlags holds the flag values for the export command.
type exportFlags struct {
	format string
	image  string
	output string
}

// NewExportCommand creates the "export" command.
func NewExportCommand() *cobra.Command {
	flags := &exportFlags{}

	cmd := &cobra.Command{
		Use:   "export <profile>",
		Short: "Render a profile as a shell script or a compose service",
		Long: `Render a profile as a standalone launch script (--format sh) or as a
docker compose service (--format compose).

Examples:
  svbrdf-run export train-a > train-a.sh
  svbrdf-run export retrain-b --format compose --image svbrdf:latest -o compose.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			format, err := profile.ParseExportFormat(flags.format)
			if err != nil {
				return model.WrapCLIError(model.ExitGeneralError, "invalid --format", err)
			}
			p, err := resolveProfile(a[0])
			if err != nil {
				return err
			}

			image := flags.image
			if image == "" {
				image = p.Image
			}
			if image == "" {
				image = settings.DockerImage
			}
			data, err := profile.Export(p, profile.ExportOptions{
				Entrypoint: entrypoint(),
				Image:      image,
				Workdir:    settings.DockerWorkdir,
				GPUs:       settings.DockerGPUs,
			}, format)
			if err != nil {
				return err
			}

			if flags.output == "" || flags.output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			mode := os.FileMode(0o644)
			if format == profile.ExportShell {
				mode = 0o755
			}
			if err := os.WriteFile(flags.output, data, mode); err != nil {
				return model.WrapCLIError(model.ExitGeneralError, fmt.Sprintf("failed to write %s", flags.output), err)
			}
			VerboseLog("Wrote %s", flags.output)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.format, "format", string(profile.ExportShell), "Output format: sh or compose")
	cmd.Flags().StringVar(&flags.image, "image", "", "Docker image for compose output (default from profile or config)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Write to a file instead of stdout")
	cmd.Flags().Bool("gpus", false, "Reserve all GPUs in compose output")

	return cmd
}
