// Package preflight checks a resolved profile against the filesystem
// before the trainer is launched, so that mistakes the trainer would only
// report after loading its framework are caught immediately.
package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// DefaultCheckpointGlob matches the trainer's checkpoint files.
const DefaultCheckpointGlob = "checkpoint*"

// LogsDirName is the statistics directory the trainer keeps inside the
// model directory. A retrain deletes it.
const LogsDirName = "logs"

// Options configures Check.
type Options struct {
	// CheckpointGlob matches checkpoint files inside the model directory.
	// Empty means DefaultCheckpointGlob.
	CheckpointGlob string

	// Script is the trainer entrypoint on the host. Empty skips the
	// check, which is what the docker backend does since the script
	// lives in the image.
	Script string
}

// Report is the outcome of a successful Check.
type Report struct {
	// Samples is the number of regular files in the input directory.
	Samples int `json:"samples"`

	// Checkpoints lists the checkpoint files found in the model directory.
	Checkpoints []string `json:"checkpoints,omitempty"`

	// Resume is true for a training run that continues from a checkpoint.
	Resume bool `json:"resume"`

	// DiscardsState is true for a retrain that will delete an existing
	// checkpoint or statistics directory. Callers ask for confirmation.
	DiscardsState bool `json:"discardsState"`

	// Warnings are non-fatal observations to show the user.
	Warnings []string `json:"warnings,omitempty"`
}

// Check validates p against the filesystem.
//
// Returns a CLIError with ExitInvalidProfile when the input directory or
// entrypoint is unusable, and ExitModelMissing for a test run without a
// checkpoint.
func Check(p *model.RunProfile, opts Options) (*Report, error) {
	if opts.CheckpointGlob == "" {
		opts.CheckpointGlob = DefaultCheckpointGlob
	}

	if opts.Script != "" {
		if err := checkScript(opts.Script); err != nil {
			return nil, err
		}
	}

	samples, err := CountSamples(p.InputDir)
	if err != nil {
		return nil, err
	}
	report := &Report{Samples: samples}

	checkpoints, err := FindCheckpoints(p.ModelDir, opts.CheckpointGlob)
	if err != nil {
		return nil, err
	}
	report.Checkpoints = checkpoints

	switch p.Mode {
	case model.ModeTest:
		if len(checkpoints) == 0 {
			return nil, model.NewCLIError(
				model.ExitModelMissing,
				fmt.Sprintf("no model found in %s but one is required for testing (looked for %s)", p.ModelDir, opts.CheckpointGlob),
			)
		}

	case model.ModeTrain:
		if p.Retrain {
			hasLogs, err := isDir(filepath.Join(p.ModelDir, LogsDirName))
			if err != nil {
				return nil, err
			}
			report.DiscardsState = len(checkpoints) > 0 || hasLogs
		} else {
			report.Resume = len(checkpoints) > 0
		}

		// With image-count 0 every input image is rendered, which is the
		// normal synthetic setup and not worth a warning.
		if p.ImageCount > 0 && p.UsedImageCount > p.ImageCount {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"used-image-count (%d) exceeds image-count (%d); the trainer will render the missing %d input images",
				p.UsedImageCount, p.ImageCount, p.UsedImageCount-p.ImageCount))
		}
		if p.ImageCount > 0 {
			report.Warnings = append(report.Warnings,
				"material mixing is disabled because the dataset contains input images")
		}
		if samples < 100 {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"only %d samples; the 1%% validation split will be empty and validation will be skipped", samples))
		}
	}

	return report, nil
}

// CountSamples returns the number of regular files directly in dir. The
// trainer treats each of them as one sample.
func CountSamples(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, model.NewCLIError(model.ExitInvalidProfile,
				fmt.Sprintf("input-dir %s does not exist", dir))
		}
		return 0, model.WrapCLIError(model.ExitInvalidProfile,
			fmt.Sprintf("input-dir %s is not readable", dir), err)
	}

	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() {
			n++
		}
	}
	if n == 0 {
		return 0, model.NewCLIError(model.ExitInvalidProfile,
			fmt.Sprintf("input-dir %s contains no sample files", dir))
	}
	return n, nil
}

// FindCheckpoints returns the sorted regular files in modelDir matching
// glob. A missing model directory has no checkpoints.
func FindCheckpoints(modelDir, glob string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(modelDir, glob))
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("invalid checkpoint glob %q", glob), err)
	}

	var files []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

func checkScript(script string) error {
	info, err := os.Stat(script)
	if err != nil {
		return model.WrapCLIError(model.ExitInvalidProfile,
			fmt.Sprintf("trainer entrypoint %s not found (set entrypoint in the config or pass --entrypoint)", script), err)
	}
	if info.IsDir() {
		return model.NewCLIError(model.ExitInvalidProfile,
			fmt.Sprintf("trainer entrypoint %s is a directory", script))
	}
	return nil
}

func isDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.IsDir(), nil
}
