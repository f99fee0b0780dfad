// Package cli implements the cobra-based CLI commands for svbrdf-run.
//
// Each command group (run, profiles, export, import, history, ps/stop/rm,
// dashboard) is defined in its own file within this package. This file
// defines the root command, the global flags, and the shared state
// (logger, launcher settings) every subcommand reads.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mmr-tortoise/svbrdf-run/internal/config"
	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// Global flag variables shared across all subcommands.
var (
	// jsonOutput switches every command to structured JSON on stdout.
	jsonOutput bool

	// verbose lowers the log level to debug.
	verbose bool

	// configPath is an explicit launcher config file.
	configPath string

	// profilesPath is an explicit profile file.
	profilesPath string
)

// Shared state set up by the root command's PersistentPreRunE.
var (
	logger   = zap.NewNop()
	settings *config.Settings
)

// Version, Commit and Date are set at build time via ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// flagBindings maps command flags onto config keys. A flag only
// overrides the config when the executing command defines it and the
// user sets it.
var flagBindings = map[string]string{
	"python":     config.KeyPython,
	"entrypoint": config.KeyEntrypoint,
	"gpus":       config.KeyDockerGPUs,
	"profiles":   config.KeyProfilesFile,
}

// NewRootCommand creates and configures the root cobra command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "svbrdf-run",
		Short: "Launch and track SVBRDF trainer runs from named profiles",
		Long: `svbrdf-run turns named run profiles into trainer command lines and runs
them locally or in a Docker container, following the training progress and
keeping a history of every run.

Without a profile file the built-in profiles test-a, test-b, train-a and
retrain-b are available.`,

		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup(cmd, os.Stderr)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Launcher config file (default ~/.svbrdf-run/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&profilesPath, "profiles", "p", "", "Profile file (default: search the working directory)")

	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewModeCommand(model.ModeTrain))
	rootCmd.AddCommand(NewModeCommand(model.ModeTest))
	rootCmd.AddCommand(NewProfilesCommand())
	rootCmd.AddCommand(NewExportCommand())
	rootCmd.AddCommand(NewImportCommand())
	rootCmd.AddCommand(NewHistoryCommand())
	rootCmd.AddCommand(NewPsCommand())
	rootCmd.AddCommand(NewStopCommand())
	rootCmd.AddCommand(NewRemoveCommand())
	rootCmd.AddCommand(NewDashboardCommand())

	return rootCmd
}

// setup builds the logger and loads the launcher settings.
func setup(cmd *cobra.Command, logOut io.Writer) error {
	logger = newLogger(logOut, verbose)

	loader := config.NewLoader()
	for name, key := range flagBindings {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := loader.BindFlag(key, f); err != nil {
				return model.WrapCLIError(model.ExitGeneralError, "invalid flag binding", err)
			}
		}
	}

	s, err := loader.Load(configPath)
	if err != nil {
		return err
	}
	settings = s
	if s.ConfigFile != "" {
		VerboseLog("Using config file %s", s.ConfigFile)
	}
	return nil
}

// newLogger returns a console logger without timestamps or callers; the
// output is meant for a person watching a training run.
func newLogger(w io.Writer, debug bool) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core)
}

// Execute runs the root command and exits with the code carried by a
// CLIError, or 1 for any other error.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			printError(os.Stderr, cliErr.Message, cliErr.Err)
			os.Exit(int(cliErr.Code))
		}

		printError(os.Stderr, err.Error(), nil)
		os.Exit(int(model.ExitGeneralError))
	}
}

// printError writes an error as text or, with --json, as a JSON object.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]any{"message": message}
		if underlying != nil {
			errObj["detail"] = underlying.Error()
		}
		data, _ := json.MarshalIndent(map[string]any{"error": errObj}, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// VerboseLog writes a debug message; it is shown with --verbose only.
func VerboseLog(format string, args ...any) {
	logger.Sugar().Debugf(format, args...)
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to encode JSON output", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
