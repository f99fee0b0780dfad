package args

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// Parse reads a trainer argument list back into a profile. The list may
// start with the interpreter and script ("python3 -u main.py --mode ..."),
// which are skipped. Unknown flags and stray positional arguments are
// errors.
//
// The returned profile has no Name; callers assign one.
func Parse(argv []string) (*model.RunProfile, error) {
	start := trainerArgsStart(argv)

	fs := pflag.NewFlagSet("trainer", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false

	var (
		mode, scaleMode, renderer string
		p                         model.RunProfile
	)
	fs.StringVar(&mode, FlagMode, "", "")
	fs.StringVar(&p.InputDir, FlagInputDir, "", "")
	fs.IntVar(&p.ImageCount, FlagImageCount, 0, "")
	fs.StringVar(&p.ModelDir, FlagModelDir, "", "")
	fs.IntVar(&p.ImageSize, FlagImageSize, 0, "")
	fs.StringVar(&scaleMode, FlagScaleMode, "", "")
	fs.IntVar(&p.UsedImageCount, FlagUsedImageCount, 0, "")
	fs.IntVar(&p.Epochs, FlagEpochs, 0, "")
	fs.IntVar(&p.SaveFrequency, FlagSaveFrequency, 0, "")
	fs.IntVar(&p.ValidationFrequency, FlagValidationFrequency, 0, "")
	fs.StringVar(&p.ModelType, FlagModelType, "", "")
	fs.StringVar(&renderer, FlagRenderer, "", "")
	fs.BoolVar(&p.Retrain, FlagRetrain, false, "")
	fs.BoolVar(&p.UseCoords, FlagUseCoords, false, "")
	fs.BoolVar(&p.NoSVBRDFInput, FlagNoSVBRDFInput, false, "")
	fs.BoolVar(&p.LinearInput, FlagLinearInput, false, "")

	if err := fs.Parse(argv[start:]); err != nil {
		return nil, fmt.Errorf("parse trainer arguments: %w", err)
	}
	if rest := fs.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("parse trainer arguments: unexpected positional arguments %q", rest)
	}

	m, err := model.ParseRunMode(mode)
	if err != nil {
		return nil, fmt.Errorf("parse trainer arguments: %w", err)
	}
	p.Mode = m

	if scaleMode != "" {
		s, err := model.ParseScaleMode(scaleMode)
		if err != nil {
			return nil, fmt.Errorf("parse trainer arguments: %w", err)
		}
		p.ScaleMode = s
	}
	if renderer != "" {
		r, err := model.ParseRenderer(renderer)
		if err != nil {
			return nil, fmt.Errorf("parse trainer arguments: %w", err)
		}
		p.Renderer = r
	}

	return &p, nil
}

// trainerArgsStart returns the index of the first trainer argument. A
// ".py" word before the first long flag ends the interpreter part, so
// interpreter options such as -u are skipped with it. Without a script,
// every leading word that is not a flag is skipped.
func trainerArgsStart(argv []string) int {
	for i, w := range argv {
		if strings.HasPrefix(w, "--") {
			break
		}
		if strings.HasSuffix(w, ".py") {
			return i + 1
		}
	}
	start := 0
	for start < len(argv) && !strings.HasPrefix(argv[start], "-") {
		start++
	}
	return start
}
