package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/svbrdf-run/internal/args"
	"github.com/mmr-tortoise/svbrdf-run/internal/model"
	"github.com/mmr-tortoise/svbrdf-run/internal/profile"
)

// loadProfiles returns the profile file named by --profiles or the
// config, the one found in the working directory, or the built-ins.
func loadProfiles() (*profile.File, error) {
	path := profilesPath
	if path == "" && settings != nil {
		path = settings.ProfilesFile
	}
	if path != "" {
		VerboseLog("Loading profiles from %s", path)
		return profile.LoadFile(path)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "failed to get current directory", err)
	}
	found, err := profile.FindProfileFile(cwd)
	if err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) && cliErr.Code == model.ExitProfileNotFound {
			VerboseLog("No profile file in %s; using built-in profiles", cwd)
			return profile.Builtin(), nil
		}
		return nil, err
	}
	VerboseLog("Loading profiles from %s", found)
	return profile.LoadFile(found)
}

// resolveProfile loads the profile file and resolves name.
func resolveProfile(name string) (*model.RunProfile, error) {
	f, err := loadProfiles()
	if err != nil {
		return nil, err
	}
	return f.Resolve(name)
}

// entrypoint returns the configured interpreter and trainer script.
func entrypoint() args.Entrypoint {
	return args.Entrypoint{Interpreter: settings.Python, Script: settings.Entrypoint}
}

// NewProfilesCommand creates the "profiles" command group.
func NewProfilesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profiles",
		Aliases: []string{"profile"},
		Short:   "List, show and validate run profiles",
	}
	cmd.AddCommand(newProfilesListCommand())
	cmd.AddCommand(newProfilesShowCommand())
	cmd.AddCommand(newProfilesValidateCommand())
	return cmd
}

func newProfilesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the available profiles",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := loadProfiles()
			if err != nil {
				return err
			}
			rows := profileRows(f)
			if IsJSONOutput() {
				return printJSON(cmd.OutOrStdout(), map[string]any{"profiles": rows})
			}
			printProfilesTable(cmd.OutOrStdout(), rows)
			return nil
		},
	}
}

// profileRow is one line of "profiles list". Profiles that fail to
// resolve are listed with their error so a broken file stays visible.
type profileRow struct {
	Name        string        `json:"name"`
	Mode        model.RunMode `json:"mode,omitempty"`
	InputDir    string        `json:"inputDir,omitempty"`
	ImageCount  int           `json:"imageCount"`
	ModelDir    string        `json:"modelDir,omitempty"`
	Epochs      int           `json:"epochs,omitempty"`
	Retrain     bool          `json:"retrain,omitempty"`
	Description string        `json:"description,omitempty"`
	Error       string        `json:"error,omitempty"`
}

func profileRows(f *profile.File) []profileRow {
	rows := make([]profileRow, 0, len(f.Profiles))
	for _, name := range f.Names() {
		p, err := f.Resolve(name)
		if err != nil {
			rows = append(rows, profileRow{Name: name, Description: f.Profiles[name].Description, Error: err.Error()})
			continue
		}
		rows = append(rows, profileRow{
			Name:        p.Name,
			Mode:        p.Mode,
			InputDir:    p.InputDir,
			ImageCount:  p.ImageCount,
			ModelDir:    p.ModelDir,
			Epochs:      p.Epochs,
			Retrain:     p.Retrain,
			Description: p.Description,
		})
	}
	return rows
}

func printProfilesTable(w io.Writer, rows []profileRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No profiles defined.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("Name", "Mode", "Input", "Images", "Model", "Epochs", "Description")
	for _, r := range rows {
		if r.Error != "" {
			_ = table.Append([]string{r.Name, "invalid", "-", "-", "-", "-", r.Error})
			continue
		}
		epochs := "-"
		if r.Mode == model.ModeTrain {
			epochs = strconv.Itoa(r.Epochs)
			if r.Retrain {
				epochs += " (retrain)"
			}
		}
		_ = table.Append([]string{
			r.Name, r.Mode.String(), r.InputDir, strconv.Itoa(r.ImageCount), r.ModelDir, epochs, orDash(r.Description),
		})
	}
	_ = table.Render()
}

func newProfilesShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a resolved profile and the trainer command it runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			p, err := resolveProfile(a[0])
			if err != nil {
				return err
			}
			command := args.Command(entrypoint(), p)

			if IsJSONOutput() {
				return printJSON(cmd.OutOrStdout(), map[string]any{"profile": p, "command": command})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Profile: %s\n", p.Name)
			if p.Description != "" {
				fmt.Fprintf(out, "  %s\n", p.Description)
			}
			fmt.Fprintln(out)
			for _, f := range args.Fields(p) {
				if f.Switch {
					fmt.Fprintf(out, "  %-22s true\n", f.Flag)
				} else {
					fmt.Fprintf(out, "  %-22s %s\n", f.Flag, f.Value)
				}
			}
			if p.Backend != "" {
				fmt.Fprintf(out, "  %-22s %s\n", "(backend)", p.Backend)
			}
			if p.Image != "" {
				fmt.Fprintf(out, "  %-22s %s\n", "(image)", p.Image)
			}
			fmt.Fprintf(out, "\nCommand:\n  %s\n", args.Quote(command))
			return nil
		},
	}
}

func newProfilesValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check every profile in the profile file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := loadProfiles()
			if err != nil {
				return err
			}
			problems := profile.ValidateFile(f)

			if IsJSONOutput() {
				if err := printJSON(cmd.OutOrStdout(), map[string]any{
					"valid":    len(problems) == 0,
					"problems": problems,
				}); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				for _, p := range problems {
					fmt.Fprintf(out, "  %s\n", p.Error())
				}
				if len(problems) == 0 {
					fmt.Fprintf(out, "All %d profiles are valid.\n", len(f.Profiles))
				}
			}

			if len(problems) > 0 {
				return model.NewCLIError(model.ExitInvalidProfile,
					fmt.Sprintf("%d problem(s) found in the profile file", len(problems)))
			}
			return nil
		},
	}
}

// orDash returns s, or "-" when s is empty, for table cells.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
