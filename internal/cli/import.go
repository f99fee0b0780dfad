package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/svbrdf-run/internal/args"
	"github.com/mmr-tortoise/svbrdf-run/internal/model"
	"github.com/mmr-tortoise/svbrdf-run/internal/profile"
)

// importFlags holds the flag values for the import command.
type importFlags struct {
	name   string
	format string
}

// NewImportCommand creates the "import" command.
func NewImportCommand() *cobra.Command {
	flags := &importFlags{}

	cmd := &cobra.Command{
		Use:   "import [flags] -- <trainer command line...>",
		Short: "Convert a trainer command line into a profile",
		Long: `Convert an existing trainer command line, e.g. the last line of an old
launch script, into a profile entry that can be pasted into a profile file.

Examples:
  svbrdf-run import --name train-a -- python3 main.py --mode train \
      --input-dir ./data/train --image-count 1 --model-dir ./models/a --epochs 1000 ...`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			p, err := args.Parse(argv)
			if err != nil {
				return model.WrapCLIError(model.ExitInvalidProfile, "cannot import command line", err)
			}

			p.Name = flags.name
			if p.Name == "" {
				p.Name = defaultImportName(p)
			}
			if err := p.Validate(); err != nil {
				return model.WrapCLIError(model.ExitInvalidProfile, "imported command line is not a valid profile", err)
			}

			format := profile.FormatYAML
			if flags.format != "" {
				if format, err = profile.FormatForPath("x." + flags.format); err != nil {
					return model.WrapCLIError(model.ExitGeneralError, "invalid --format", err)
				}
			}
			if IsJSONOutput() {
				format = profile.FormatJSON
			}

			data, err := profile.Encode(&profile.File{
				Profiles: map[string]profile.Raw{p.Name: profile.FromRunProfile(p)},
			}, format)
			if err != nil {
				return model.WrapCLIError(model.ExitGeneralError, "failed to encode profile", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&flags.name, "name", "", "Profile name (default: <mode>-<model dir name>)")
	cmd.Flags().StringVar(&flags.format, "format", "", "Output format: yaml, json or toml (default yaml)")

	return cmd
}

// defaultImportName derives a profile name such as "train-a" from the
// mode and the model directory.
func defaultImportName(p *model.RunProfile) string {
	base := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, filepath.Base(filepath.Clean(p.ModelDir)))

	name := fmt.Sprintf("%s-%s", p.Mode, strings.Trim(base, "-."))
	if p.Retrain {
		name = "re" + name
	}
	return strings.TrimSuffix(name, "-")
}
