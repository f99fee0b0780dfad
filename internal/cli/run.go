package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/mmr-tortoise/svbrdf-run/internal/args"
	"github.com/mmr-tortoise/svbrdf-run/internal/docker"
	"github.com/mmr-tortoise/svbrdf-run/internal/gitinfo"
	"github.com/mmr-tortoise/svbrdf-run/internal/history"
	"github.com/mmr-tortoise/svbrdf-run/internal/launcher"
	"github.com/mmr-tortoise/svbrdf-run/internal/model"
	"github.com/mmr-tortoise/svbrdf-run/internal/preflight"
	"github.com/mmr-tortoise/svbrdf-run/internal/progress"
	"github.com/mmr-tortoise/svbrdf-run/internal/watch"
)

// runFlags holds the launch options of run, train and test.
type runFlags struct {
	dryRun     bool
	backend    string
	image      string
	keep       bool
	force      bool
	noProgress bool
	overrides  overrideFlags

	// Bound to the config through flagBindings; declared so they show
	// up in help and can be looked up.
	python     string
	entrypoint string
	gpus       bool
}

// overrideFlags mirror the trainer flags. Only flags the user sets are
// applied on top of the profile.
type overrideFlags struct {
	inputDir, modelDir, modelType, scaleMode, renderer                      string
	imageCount, imageSize, usedImageCount, epochs, saveFreq, validationFreq int
	retrain, useCoords, noSVBRDFInput, linearInput                          bool
}

// NewRunCommand creates the "run" command.
func NewRunCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run <profile>",
		Short: "Launch the trainer for a profile",
		Long: `Launch the trainer for a profile.

The profile is checked against the filesystem first: the input directory
must contain samples, and a test run needs a checkpoint in the model
directory. Any trainer flag can be overridden on the command line.

Examples:
  svbrdf-run run train-a
  svbrdf-run run train-a --epochs 50 --dry-run
  svbrdf-run run retrain-b --backend docker --image svbrdf:latest --gpus --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			return runProfile(cmd, a[0], "", flags)
		},
	}
	addRunFlags(cmd.Flags(), flags)
	return cmd
}

// NewModeCommand creates "train" or "test": run with the profile's mode
// asserted.
func NewModeCommand(mode model.RunMode) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   mode.String() + " <profile>",
		Short: fmt.Sprintf("Launch a %s profile (fails for a profile of another mode)", mode),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			return runProfile(cmd, a[0], mode, flags)
		},
	}
	addRunFlags(cmd.Flags(), flags)
	return cmd
}

func addRunFlags(fs *pflag.FlagSet, f *runFlags) {
	fs.BoolVar(&f.dryRun, "dry-run", false, "Print the command (or container) without launching it")
	fs.StringVar(&f.backend, "backend", "", "Where to run the trainer: local or docker (default from profile or config)")
	fs.StringVar(&f.image, "image", "", "Docker image for the docker backend")
	fs.BoolVar(&f.gpus, "gpus", false, "Request all GPUs for the container")
	fs.BoolVar(&f.keep, "keep", false, "Keep the container after the trainer exits")
	fs.BoolVarP(&f.force, "force", "f", false, "Retrain without confirmation even if it discards a model")
	fs.BoolVar(&f.noProgress, "no-progress", false, "Show raw trainer output instead of a progress bar")
	fs.StringVar(&f.python, "python", "", "Interpreter that runs the trainer (default from config: python3)")
	fs.StringVar(&f.entrypoint, "entrypoint", "", "Trainer script (default from config: main.py)")

	o := &f.overrides
	fs.StringVar(&o.inputDir, args.FlagInputDir, "", "Override the input directory")
	fs.IntVar(&o.imageCount, args.FlagImageCount, 0, "Override the number of input images per sample")
	fs.StringVar(&o.modelDir, args.FlagModelDir, "", "Override the model directory")
	fs.IntVar(&o.imageSize, args.FlagImageSize, 0, "Override the image size")
	fs.StringVar(&o.scaleMode, args.FlagScaleMode, "", "Override the scale mode: crop or scale")
	fs.IntVar(&o.usedImageCount, args.FlagUsedImageCount, 0, "Override the number of input images used")
	fs.IntVar(&o.epochs, args.FlagEpochs, 0, "Override the number of epochs")
	fs.IntVar(&o.saveFreq, args.FlagSaveFrequency, 0, "Override the checkpoint frequency in epochs")
	fs.IntVar(&o.validationFreq, args.FlagValidationFrequency, 0, "Override the validation frequency in epochs")
	fs.StringVar(&o.modelType, args.FlagModelType, "", "Override the model type")
	fs.StringVar(&o.renderer, args.FlagRenderer, "", "Override the renderer: local or pathtracing")
	fs.BoolVar(&o.retrain, args.FlagRetrain, false, "Discard the existing model and train from scratch")
	fs.BoolVar(&o.useCoords, args.FlagUseCoords, false, "Pass --use-coords to the trainer")
	fs.BoolVar(&o.noSVBRDFInput, args.FlagNoSVBRDFInput, false, "Pass --no-svbrdf-input to the trainer")
	fs.BoolVar(&o.linearInput, args.FlagLinearInput, false, "Pass --linear-input to the trainer")
}

// applyOverrides copies every trainer flag the user set onto p.
func applyOverrides(fs *pflag.FlagSet, o *overrideFlags, p *model.RunProfile) error {
	set := func(name string) bool { return fs.Changed(name) }

	if set(args.FlagInputDir) {
		abs, err := filepath.Abs(o.inputDir)
		if err != nil {
			return err
		}
		p.InputDir = abs
	}
	if set(args.FlagModelDir) {
		abs, err := filepath.Abs(o.modelDir)
		if err != nil {
			return err
		}
		p.ModelDir = abs
	}
	if set(args.FlagImageCount) {
		p.ImageCount = o.imageCount
	}
	if set(args.FlagImageSize) {
		p.ImageSize = o.imageSize
	}
	if set(args.FlagScaleMode) {
		m, err := model.ParseScaleMode(o.scaleMode)
		if err != nil {
			return err
		}
		p.ScaleMode = m
	}
	if set(args.FlagUsedImageCount) {
		p.UsedImageCount = o.usedImageCount
	}
	if set(args.FlagEpochs) {
		p.Epochs = o.epochs
	}
	if set(args.FlagSaveFrequency) {
		p.SaveFrequency = o.saveFreq
	}
	if set(args.FlagValidationFrequency) {
		p.ValidationFrequency = o.validationFreq
	}
	if set(args.FlagModelType) {
		p.ModelType = o.modelType
	}
	if set(args.FlagRenderer) {
		r, err := model.ParseRenderer(o.renderer)
		if err != nil {
			return err
		}
		p.Renderer = r
	}
	if set(args.FlagRetrain) {
		p.Retrain = o.retrain
	}
	if set(args.FlagUseCoords) {
		p.UseCoords = o.useCoords
	}
	if set(args.FlagNoSVBRDFInput) {
		p.NoSVBRDFInput = o.noSVBRDFInput
	}
	if set(args.FlagLinearInput) {
		p.LinearInput = o.linearInput
	}
	return nil
}

// prepareProfile resolves name and applies command-line settings. want
// asserts the mode when non-empty.
func prepareProfile(fs *pflag.FlagSet, name string, want model.RunMode, flags *runFlags) (*model.RunProfile, error) {
	resolved, err := resolveProfile(name)
	if err != nil {
		return nil, err
	}
	if want != "" && resolved.Mode != want {
		return nil, model.NewCLIError(model.ExitInvalidProfile,
			fmt.Sprintf("profile %q is a %s profile; use \"svbrdf-run %s %s\"", name, resolved.Mode, resolved.Mode, name))
	}

	p := resolved.Clone()
	if err := applyOverrides(fs, &flags.overrides, p); err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidProfile, "invalid override", err)
	}

	switch {
	case fs.Changed("backend"):
		b, err := model.ParseBackend(flags.backend)
		if err != nil {
			return nil, model.WrapCLIError(model.ExitInvalidProfile, "invalid --backend", err)
		}
		p.Backend = b
	case p.Backend == "":
		p.Backend = settings.Backend
	}
	if fs.Changed("image") {
		p.Image = flags.image
	}
	if p.Backend == model.BackendDocker && p.Image == "" {
		p.Image = settings.DockerImage
	}

	if err := p.Validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidProfile, "invalid profile after overrides", err)
	}
	return p, nil
}

// dryRunOutput is the --json output of a dry run.
type dryRunOutput struct {
	Profile   *model.RunProfile `json:"profile"`
	Backend   model.Backend     `json:"backend"`
	Command   []string          `json:"command"`
	Container *containerPlan    `json:"container,omitempty"`
	Preflight *preflight.Report `json:"preflight"`
}

type containerPlan struct {
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	Workdir string            `json:"workdir"`
	Mounts  map[string]string `json:"mounts"`
	GPUs    bool              `json:"gpus"`
}

func runProfile(cmd *cobra.Command, name string, want model.RunMode, flags *runFlags) error {
	p, err := prepareProfile(cmd.Flags(), name, want, flags)
	if err != nil {
		return err
	}
	ep := entrypoint()
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	opts := preflight.Options{CheckpointGlob: settings.CheckpointGlob}
	if p.Backend == model.BackendLocal {
		opts.Script = ep.Script
	}
	report, err := preflight.Check(p, opts)
	if err != nil {
		return err
	}
	for _, w := range report.Warnings {
		logger.Warn(w, zap.String("profile", p.Name))
	}
	if report.Resume {
		logger.Info("resuming from checkpoint", zap.String("modelDir", p.ModelDir),
			zap.Int("checkpoints", len(report.Checkpoints)))
	}

	runID := history.NewID()
	job := launcher.Job{RunID: runID, Profile: p, Entrypoint: ep, StartedAt: time.Now()}

	var (
		runner  launcher.Runner
		command = args.Command(ep, p)
		plan    *containerPlan
	)
	switch p.Backend {
	case model.BackendDocker:
		dr := &launcher.DockerRunner{
			Image:        settings.DockerImage,
			Workdir:      settings.DockerWorkdir,
			GPUs:         settings.DockerGPUs,
			Keep:         flags.keep,
			StopGrace:    settings.StopGrace,
			PullProgress: errOut,
			Logger:       logger,
		}
		spec, err := dr.Spec(job)
		if err != nil {
			return err
		}
		command = spec.Cmd
		plan = &containerPlan{
			Name:    spec.Name,
			Image:   spec.Image,
			Workdir: spec.Workdir,
			Mounts:  map[string]string{spec.InputDir: docker.ContainerInputDir, spec.ModelDir: docker.ContainerModelDir},
			GPUs:    spec.GPUs,
		}
		runner = dr
	default:
		runner = launcher.NewLocalRunner(settings.StopGrace, logger)
	}

	if flags.dryRun {
		return printDryRun(out, dryRunOutput{Profile: p, Backend: p.Backend, Command: command, Container: plan, Preflight: report})
	}

	if report.DiscardsState && !flags.force {
		confirmed, err := promptRetrain(errOut, cmd.InOrStdin(), p)
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to read user input", err)
		}
		if !confirmed {
			return model.NewCLIError(model.ExitUserCancelled, "operation cancelled by user")
		}
	}

	if dr, ok := runner.(*launcher.DockerRunner); ok {
		cli, err := docker.NewClient()
		if err != nil {
			return err
		}
		defer func() { _ = cli.Close() }()
		dr.Client = cli
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return launch(ctx, out, errOut, job, runner, command, flags.noProgress)
}

// launch runs the job, follows its progress and records it in the history.
func launch(ctx context.Context, out, errOut io.Writer, job launcher.Job, runner launcher.Runner, command []string, noProgress bool) error {
	p := job.Profile
	rec := &model.RunRecord{
		ID:        job.RunID,
		Profile:   p.Name,
		Mode:      p.Mode,
		Backend:   p.Backend,
		Args:      command,
		StartedAt: job.StartedAt,
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	if info, err := gitinfo.Lookup(ctx, filepath.Dir(absOrSelf(job.Entrypoint.Script))); err != nil {
		logger.Warn("could not determine trainer revision", zap.Error(err))
	} else {
		rec.GitCommit, rec.GitDirty = info.Commit, info.Dirty
	}

	// recorder stays nil when the run could not be inserted; the store
	// itself is still closed on return.
	var recorder *history.Store
	if store, err := history.Open(ctx, settings.HistoryPath); err != nil {
		logger.Warn("run history unavailable", zap.Error(err))
	} else {
		defer func() { _ = store.Close() }()
		if err := store.Insert(ctx, rec); err != nil {
			logger.Warn("failed to record run", zap.Error(err))
		} else {
			recorder = store
		}
	}

	// Trainer stdout goes to stderr in JSON mode so stdout stays parseable.
	trainerOut := out
	if IsJSONOutput() {
		trainerOut = errOut
	}
	showBar := !noProgress && !IsJSONOutput() && progress.IsTerminal(errOut)

	var (
		bar      *progress.Bar
		listener progress.Listener
	)
	if showBar {
		bar = progress.NewBar(errOut, p.Name)
		listener = bar
	}
	tracker := progress.NewTracker(listener)
	stdout := progress.Tee(tracker, trainerOut, showBar)
	stderr := progress.Tee(tracker, errOut, false)
	job.Stdout, job.Stderr = stdout, stderr
	job.StartedAt = rec.StartedAt

	var watcher *watch.Watcher
	if p.IsTrain() {
		watcher = watch.New(p.ModelDir, settings.CheckpointGlob, func(string) { tracker.CheckpointWritten() }, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("not watching model directory", zap.Error(err))
			watcher = nil
		}
	}

	logger.Info("launching trainer", zap.String("run", rec.ShortID()), zap.String("profile", p.Name),
		zap.String("mode", p.Mode.String()), zap.String("backend", p.Backend.String()))
	VerboseLog("Command: %s", args.Quote(command))

	result, runErr := runner.Run(ctx, job)

	stdout.Flush()
	stderr.Flush()
	if watcher != nil {
		watcher.Stop()
	}
	if bar != nil {
		bar.Finish()
	}

	summary := tracker.Summary()
	completion := history.Completion{Status: model.StatusFailed, ExitCode: -1, FinishedAt: time.Now(), Summary: &summary}
	if result != nil {
		completion.Status = result.Status()
		completion.ExitCode = result.ExitCode
		completion.ContainerID = result.ContainerID
		completion.FinishedAt = result.FinishedAt
		rec.ContainerID = result.ContainerID
	}
	rec.Status, rec.ExitCode, rec.FinishedAt, rec.Summary = completion.Status, completion.ExitCode, completion.FinishedAt, &summary

	if recorder != nil {
		if err := recorder.Finish(context.WithoutCancel(ctx), rec.ID, completion); err != nil {
			logger.Warn("failed to record run result", zap.Error(err))
		}
	}

	if runErr != nil {
		return runErr
	}

	if IsJSONOutput() {
		if err := printJSON(out, rec); err != nil {
			return err
		}
	} else {
		printRunSummary(errOut, rec)
	}

	switch rec.Status {
	case model.StatusCancelled:
		return model.NewCLIError(model.ExitUserCancelled, fmt.Sprintf("run %s cancelled", rec.ShortID()))
	case model.StatusFailed:
		return model.NewCLIError(model.ExitFromProcess(rec.ExitCode),
			fmt.Sprintf("trainer exited with status %d", rec.ExitCode))
	}
	return nil
}

func printDryRun(w io.Writer, d dryRunOutput) error {
	if IsJSONOutput() {
		return printJSON(w, d)
	}

	if d.Container != nil {
		fmt.Fprintf(w, "# container %s from %s (workdir %s)\n", d.Container.Name, d.Container.Image, d.Container.Workdir)
		fmt.Fprintf(w, "#   %s -> %s (read-only)\n", d.Profile.InputDir, docker.ContainerInputDir)
		fmt.Fprintf(w, "#   %s -> %s\n", d.Profile.ModelDir, docker.ContainerModelDir)
		if d.Container.GPUs {
			fmt.Fprintln(w, "#   gpus: all")
		}
	}
	fmt.Fprintln(w, args.Quote(d.Command))
	return nil
}

// promptRetrain asks before a retrain discards an existing model.
func promptRetrain(w io.Writer, in io.Reader, p *model.RunProfile) (bool, error) {
	fmt.Fprintf(w, "Profile %q retrains the model in %s:\n", p.Name, p.ModelDir)
	fmt.Fprintln(w, "  - existing checkpoints will be overwritten")
	fmt.Fprintf(w, "  - training statistics in %s will be deleted\n", filepath.Join(p.ModelDir, preflight.LogsDirName))
	fmt.Fprint(w, "\nContinue? [y/N] ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
		return answer == "y" || answer == "yes", nil
	}
	return false, scanner.Err()
}

// printRunSummary writes the end-of-run report.
func printRunSummary(w io.Writer, rec *model.RunRecord) {
	fmt.Fprintf(w, "\nRun %s %s after %s", rec.ShortID(), rec.Status, rec.Duration(time.Now()).Round(time.Second))
	if rec.Status == model.StatusFailed {
		fmt.Fprintf(w, " (exit status %d)", rec.ExitCode)
	}
	fmt.Fprintln(w)

	s := rec.Summary
	if s == nil || (s.Batches == 0 && s.LastValLoss == nil) {
		return
	}
	fmt.Fprintf(w, "  epochs      %d-%d", s.FirstEpoch, s.LastEpoch)
	if s.TargetEpoch > 0 {
		fmt.Fprintf(w, " of %d", s.TargetEpoch)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  loss        last %s, best %s\n", formatLoss(s.LastLoss), formatLoss(s.BestLoss))
	if s.LastValLoss != nil {
		fmt.Fprintf(w, "  validation  last %s, best %s (epoch %d)\n", formatLoss(s.LastValLoss), formatLoss(s.BestValLoss), s.BestValEpoch)
	}
	if s.CheckpointWrites > 0 {
		fmt.Fprintf(w, "  checkpoints %d written\n", s.CheckpointWrites)
	}
}

func formatLoss(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.6f", *v)
}

func absOrSelf(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
