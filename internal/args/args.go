// Package args converts run profiles to trainer command lines and back.
//
// The trainer (main.py) is driven entirely by long flags. Build produces
// the flag list for a profile in a fixed order, Parse reads such a list
// back into a profile, and Quote renders a command line that can be pasted
// into a shell. For every valid profile p, Parse(Build(p)) reproduces the
// forwarded fields of p.
package args

import (
	"strconv"

	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// Trainer flag names.
const (
	FlagMode                = "mode"
	FlagInputDir            = "input-dir"
	FlagImageCount          = "image-count"
	FlagModelDir            = "model-dir"
	FlagImageSize           = "image-size"
	FlagScaleMode           = "scale-mode"
	FlagUsedImageCount      = "used-image-count"
	FlagEpochs              = "epochs"
	FlagSaveFrequency       = "save-frequency"
	FlagValidationFrequency = "validation-frequency"
	FlagModelType           = "model-type"
	FlagRetrain             = "retrain"
	FlagRenderer            = "renderer"
	FlagUseCoords           = "use-coords"
	FlagNoSVBRDFInput       = "no-svbrdf-input"
	FlagLinearInput         = "linear-input"
)

// Field is one forwarded flag. Switch fields are emitted bare (--retrain)
// and only when set; value fields are emitted as "--flag value".
type Field struct {
	Flag   string
	Value  string
	Switch bool
}

// Fields returns the forwarded flags of p in trainer order. Train-only
// flags are only included for training profiles; empty optional strings
// and false switches are omitted.
func Fields(p *model.RunProfile) []Field {
	fields := []Field{
		{Flag: FlagMode, Value: p.Mode.String()},
		{Flag: FlagInputDir, Value: p.InputDir},
		{Flag: FlagImageCount, Value: strconv.Itoa(p.ImageCount)},
		{Flag: FlagModelDir, Value: p.ModelDir},
	}

	if p.IsTrain() {
		fields = append(fields,
			Field{Flag: FlagImageSize, Value: strconv.Itoa(p.ImageSize)},
			Field{Flag: FlagScaleMode, Value: p.ScaleMode.String()},
			Field{Flag: FlagUsedImageCount, Value: strconv.Itoa(p.UsedImageCount)},
			Field{Flag: FlagEpochs, Value: strconv.Itoa(p.Epochs)},
			Field{Flag: FlagSaveFrequency, Value: strconv.Itoa(p.SaveFrequency)},
			Field{Flag: FlagValidationFrequency, Value: strconv.Itoa(p.ValidationFrequency)},
		)
		if p.ModelType != "" {
			fields = append(fields, Field{Flag: FlagModelType, Value: p.ModelType})
		}
		if p.Renderer != "" {
			fields = append(fields, Field{Flag: FlagRenderer, Value: p.Renderer.String()})
		}
		if p.Retrain {
			fields = append(fields, Field{Flag: FlagRetrain, Switch: true})
		}
	}

	if p.UseCoords {
		fields = append(fields, Field{Flag: FlagUseCoords, Switch: true})
	}
	if p.NoSVBRDFInput {
		fields = append(fields, Field{Flag: FlagNoSVBRDFInput, Switch: true})
	}
	if p.LinearInput {
		fields = append(fields, Field{Flag: FlagLinearInput, Switch: true})
	}
	return fields
}

// Build returns the trainer arguments for p, without interpreter or script.
func Build(p *model.RunProfile) []string {
	fields := Fields(p)
	argv := make([]string, 0, len(fields)*2)
	for _, f := range fields {
		argv = append(argv, "--"+f.Flag)
		if !f.Switch {
			argv = append(argv, f.Value)
		}
	}
	return argv
}

// Entrypoint names the interpreter and script that receive the arguments.
type Entrypoint struct {
	// Interpreter is the program executed, e.g. "python3". It may be empty
	// when Script is directly executable.
	Interpreter string

	// Script is the trainer script, e.g. "main.py".
	Script string
}

// Command returns the full command line: interpreter, script, arguments.
func Command(ep Entrypoint, p *model.RunProfile) []string {
	trainer := Build(p)
	cmd := make([]string, 0, len(trainer)+2)
	if ep.Interpreter != "" {
		cmd = append(cmd, ep.Interpreter)
	}
	cmd = append(cmd, ep.Script)
	return append(cmd, trainer...)
}
