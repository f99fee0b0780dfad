package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// RunMode selects whether the trainer trains a model or evaluates an
// existing one. It is forwarded verbatim as --mode.
type RunMode string

const (
	// ModeTrain trains (or resumes training of) the model in the model directory.
	ModeTrain RunMode = "train"

	// ModeTest evaluates the checkpoint stored in the model directory.
	// The trainer refuses to run when no checkpoint exists.
	ModeTest RunMode = "test"
)

// String returns the string representation of RunMode.
func (m RunMode) String() string {
	return string(m)
}

// IsValid checks whether the RunMode value is one of the predefined modes.
func (m RunMode) IsValid() bool {
	switch m {
	case ModeTrain, ModeTest:
		return true
	default:
		return false
	}
}

// ParseRunMode converts a string to a RunMode (case-insensitive).
func ParseRunMode(s string) (RunMode, error) {
	mode := RunMode(strings.ToLower(s))
	if !mode.IsValid() {
		return "", fmt.Errorf("invalid run mode: %q (valid: train, test)", s)
	}
	return mode, nil
}

// ScaleMode is the image preprocessing strategy the trainer applies to
// samples that are larger than the requested image size.
type ScaleMode string

const (
	// ScaleCrop crops a square of image-size pixels from the top left corner.
	ScaleCrop ScaleMode = "crop"

	// ScaleScale resizes the whole sample down to image-size.
	ScaleScale ScaleMode = "scale"
)

// String returns the string representation of ScaleMode.
func (s ScaleMode) String() string {
	return string(s)
}

// IsValid checks whether the ScaleMode value is one of the known modes.
func (s ScaleMode) IsValid() bool {
	switch s {
	case ScaleCrop, ScaleScale:
		return true
	default:
		return false
	}
}

// ParseScaleMode converts a string to a ScaleMode (case-insensitive).
func ParseScaleMode(s string) (ScaleMode, error) {
	mode := ScaleMode(strings.ToLower(s))
	if !mode.IsValid() {
		return "", fmt.Errorf("invalid scale mode: %q (valid: crop, scale)", s)
	}
	return mode, nil
}

// Renderer selects the differentiable renderer used by the training loss.
// The empty value means "trainer default" and is never forwarded.
type Renderer string

const (
	RendererLocal       Renderer = "local"
	RendererPathTracing Renderer = "pathtracing"
)

// String returns the string representation of Renderer.
func (r Renderer) String() string {
	return string(r)
}

// IsValid reports whether r is empty or a known renderer.
func (r Renderer) IsValid() bool {
	switch r {
	case "", RendererLocal, RendererPathTracing:
		return true
	default:
		return false
	}
}

// ParseRenderer converts a string to a Renderer (case-insensitive).
func ParseRenderer(s string) (Renderer, error) {
	r := Renderer(strings.ToLower(s))
	if !r.IsValid() {
		return "", fmt.Errorf("invalid renderer: %q (valid: local, pathtracing)", s)
	}
	return r, nil
}

// Backend selects where the trainer process runs.
type Backend string

const (
	// BackendLocal runs the trainer as a child process of svbrdf-run.
	BackendLocal Backend = "local"

	// BackendDocker runs the trainer inside a labelled Docker container
	// with the input and model directories bind-mounted.
	BackendDocker Backend = "docker"
)

// String returns the string representation of Backend.
func (b Backend) String() string {
	return string(b)
}

// IsValid checks whether the Backend value is one of the known backends.
func (b Backend) IsValid() bool {
	switch b {
	case BackendLocal, BackendDocker:
		return true
	default:
		return false
	}
}

// ParseBackend converts a string to a Backend (case-insensitive).
func ParseBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(s))
	if !b.IsValid() {
		return "", fmt.Errorf("invalid backend: %q (valid: local, docker)", s)
	}
	return b, nil
}

// RunProfile is a named, fully resolved trainer invocation. It replaces one
// of the hand-written launch scripts: every trainer flag has a field here,
// plus a few launch settings that are not forwarded to the trainer.
type RunProfile struct {
	// Name identifies the profile in the profile file and in the history.
	Name string `json:"name"`

	// Description is free text shown by "profiles list".
	Description string `json:"description,omitempty"`

	// Mode is forwarded as --mode.
	Mode RunMode `json:"mode"`

	// InputDir is the dataset directory (--input-dir). Every regular file
	// in it is one sample.
	InputDir string `json:"inputDir"`

	// ImageCount is the number of input images stored in each sample
	// (--image-count). Zero means samples contain material maps only.
	ImageCount int `json:"imageCount"`

	// ModelDir holds checkpoints and training statistics (--model-dir).
	ModelDir string `json:"modelDir"`

	// The fields below are train-only.

	ModelType           string    `json:"modelType,omitempty"`
	ScaleMode           ScaleMode `json:"scaleMode,omitempty"`
	ImageSize           int       `json:"imageSize,omitempty"`
	UsedImageCount      int       `json:"usedImageCount,omitempty"`
	Epochs              int       `json:"epochs,omitempty"`
	SaveFrequency       int       `json:"saveFrequency,omitempty"`
	ValidationFrequency int       `json:"validationFrequency,omitempty"`
	Renderer            Renderer  `json:"renderer,omitempty"`

	// Retrain discards any checkpoint and statistics in ModelDir and
	// starts from epoch zero (--retrain).
	Retrain bool `json:"retrain,omitempty"`

	// Optional flags accepted in both modes.

	UseCoords     bool `json:"useCoords,omitempty"`
	NoSVBRDFInput bool `json:"noSvbrdfInput,omitempty"`
	LinearInput   bool `json:"linearInput,omitempty"`

	// Backend selects where the trainer runs. Empty means the configured default.
	Backend Backend `json:"backend,omitempty"`

	// Image is the Docker image for BackendDocker.
	Image string `json:"image,omitempty"`

	// Env holds extra environment variables for the trainer process.
	Env map[string]string `json:"env,omitempty"`
}

// nameRegex validates profile names: they appear in Docker labels,
// container names and file names.
var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateName checks if the given name is a valid profile name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("profile name must not be empty")
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must start with an alphanumeric character and contain only alphanumerics, '.', '_' and '-'", name)
	}
	return nil
}

// IsTrain reports whether the profile trains a model.
func (p *RunProfile) IsTrain() bool {
	return p.Mode == ModeTrain
}

// HasTrainOnlyFields reports which train-only fields carry a value.
// Used to reject test profiles that set them.
func (p *RunProfile) HasTrainOnlyFields() []string {
	var set []string
	if p.ModelType != "" {
		set = append(set, "model-type")
	}
	if p.ScaleMode != "" {
		set = append(set, "scale-mode")
	}
	if p.ImageSize != 0 {
		set = append(set, "image-size")
	}
	if p.UsedImageCount != 0 {
		set = append(set, "used-image-count")
	}
	if p.Epochs != 0 {
		set = append(set, "epochs")
	}
	if p.SaveFrequency != 0 {
		set = append(set, "save-frequency")
	}
	if p.ValidationFrequency != 0 {
		set = append(set, "validation-frequency")
	}
	if p.Renderer != "" {
		set = append(set, "renderer")
	}
	if p.Retrain {
		set = append(set, "retrain")
	}
	return set
}

// Validate checks the profile invariants and returns every violation
// joined into a single error.
func (p *RunProfile) Validate() error {
	var errs []error

	if err := ValidateName(p.Name); err != nil {
		errs = append(errs, err)
	}
	if !p.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("invalid run mode: %q (valid: train, test)", p.Mode))
	}
	if p.InputDir == "" {
		errs = append(errs, errors.New("input-dir must be set"))
	}
	if p.ModelDir == "" {
		errs = append(errs, errors.New("model-dir must be set"))
	}
	if p.ImageCount < 0 {
		errs = append(errs, fmt.Errorf("image-count must not be negative, got %d", p.ImageCount))
	}

	switch p.Mode {
	case ModeTrain:
		// The trainer schedules saves and validation with epoch % frequency.
		positive := []struct {
			flag  string
			value int
		}{
			{"epochs", p.Epochs},
			{"save-frequency", p.SaveFrequency},
			{"validation-frequency", p.ValidationFrequency},
			{"image-size", p.ImageSize},
			{"used-image-count", p.UsedImageCount},
		}
		for _, f := range positive {
			if f.value < 1 {
				errs = append(errs, fmt.Errorf("%s must be at least 1 for training, got %d", f.flag, f.value))
			}
		}
		if !p.ScaleMode.IsValid() {
			errs = append(errs, fmt.Errorf("invalid scale mode: %q (valid: crop, scale)", p.ScaleMode))
		}
		if !p.Renderer.IsValid() {
			errs = append(errs, fmt.Errorf("invalid renderer: %q (valid: local, pathtracing)", p.Renderer))
		}
	case ModeTest:
		if set := p.HasTrainOnlyFields(); len(set) > 0 {
			errs = append(errs, fmt.Errorf("train-only settings used in a test profile: %s", strings.Join(set, ", ")))
		}
	}

	if p.Backend != "" && !p.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("invalid backend: %q (valid: local, docker)", p.Backend))
	}
	if p.Backend == BackendDocker && p.Image == "" {
		errs = append(errs, errors.New("docker backend requires an image"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("profile %q: %w", p.Name, errors.Join(errs...))
}

// Clone returns a deep copy of the profile so overrides never leak back
// into a shared profile file.
func (p *RunProfile) Clone() *RunProfile {
	c := *p
	if p.Env != nil {
		c.Env = make(map[string]string, len(p.Env))
		for k, v := range p.Env {
			c.Env[k] = v
		}
	}
	return &c
}
