package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// merge returns r with every unset field taken from base.
func (r Raw) merge(base Raw) Raw {
	out := r
	str := func(dst *string, b string) {
		if *dst == "" {
			*dst = b
		}
	}
	str(&out.Description, base.Description)
	str(&out.Mode, base.Mode)
	str(&out.InputDir, base.InputDir)
	str(&out.ModelDir, base.ModelDir)
	str(&out.ModelType, base.ModelType)
	str(&out.ScaleMode, base.ScaleMode)
	str(&out.Renderer, base.Renderer)
	str(&out.Backend, base.Backend)
	str(&out.Image, base.Image)

	num := func(dst **int, b *int) {
		if *dst == nil {
			*dst = b
		}
	}
	num(&out.ImageCount, base.ImageCount)
	num(&out.ImageSize, base.ImageSize)
	num(&out.UsedImageCount, base.UsedImageCount)
	num(&out.Epochs, base.Epochs)
	num(&out.SaveFrequency, base.SaveFrequency)
	num(&out.ValidationFrequency, base.ValidationFrequency)

	flag := func(dst **bool, b *bool) {
		if *dst == nil {
			*dst = b
		}
	}
	flag(&out.Retrain, base.Retrain)
	flag(&out.UseCoords, base.UseCoords)
	flag(&out.NoSVBRDFInput, base.NoSVBRDFInput)
	flag(&out.LinearInput, base.LinearInput)

	if len(base.Env) > 0 {
		env := make(map[string]string, len(base.Env)+len(r.Env))
		for k, v := range base.Env {
			env[k] = v
		}
		for k, v := range r.Env {
			env[k] = v
		}
		out.Env = env
	}
	return out
}

// dropInheritedTrainFields clears train-only settings that a test profile
// inherited from the defaults section, so one defaults block can serve
// both train and test profiles. Train-only settings written on the test
// profile itself are kept and rejected by validation.
func dropInheritedTrainFields(merged, own Raw) Raw {
	if own.ModelType == "" {
		merged.ModelType = ""
	}
	if own.ScaleMode == "" {
		merged.ScaleMode = ""
	}
	if own.Renderer == "" {
		merged.Renderer = ""
	}
	if own.ImageSize == nil {
		merged.ImageSize = nil
	}
	if own.UsedImageCount == nil {
		merged.UsedImageCount = nil
	}
	if own.Epochs == nil {
		merged.Epochs = nil
	}
	if own.SaveFrequency == nil {
		merged.SaveFrequency = nil
	}
	if own.ValidationFrequency == nil {
		merged.ValidationFrequency = nil
	}
	if own.Retrain == nil {
		merged.Retrain = nil
	}
	return merged
}

func intValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func boolValue(p *bool) bool {
	return p != nil && *p
}

// toRunProfile converts a merged Raw into a typed profile. Enum parse
// failures are collected rather than returned one at a time.
func toRunProfile(name string, r Raw) (*model.RunProfile, error) {
	var errs []error

	p := &model.RunProfile{
		Name:                name,
		Description:         r.Description,
		Mode:                model.RunMode(strings.ToLower(r.Mode)),
		InputDir:            r.InputDir,
		ImageCount:          intValue(r.ImageCount),
		ModelDir:            r.ModelDir,
		ModelType:           r.ModelType,
		ImageSize:           intValue(r.ImageSize),
		UsedImageCount:      intValue(r.UsedImageCount),
		Epochs:              intValue(r.Epochs),
		SaveFrequency:       intValue(r.SaveFrequency),
		ValidationFrequency: intValue(r.ValidationFrequency),
		Retrain:             boolValue(r.Retrain),
		UseCoords:           boolValue(r.UseCoords),
		NoSVBRDFInput:       boolValue(r.NoSVBRDFInput),
		LinearInput:         boolValue(r.LinearInput),
		Image:               r.Image,
		Env:                 r.Env,
	}

	if r.ScaleMode != "" {
		s, err := model.ParseScaleMode(r.ScaleMode)
		if err != nil {
			errs = append(errs, err)
		}
		p.ScaleMode = s
	}
	if r.Renderer != "" {
		rd, err := model.ParseRenderer(r.Renderer)
		if err != nil {
			errs = append(errs, err)
		}
		p.Renderer = rd
	}
	if r.Backend != "" {
		b, err := model.ParseBackend(r.Backend)
		if err != nil {
			errs = append(errs, err)
		}
		p.Backend = b
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("profile %q: %w", name, errors.Join(errs...))
	}
	return p, nil
}

// FromRunProfile converts a typed profile back into its file form, with
// zero-valued optional settings omitted. Used by import and export.
func FromRunProfile(p *model.RunProfile) Raw {
	r := Raw{
		Description: p.Description,
		Mode:        p.Mode.String(),
		InputDir:    p.InputDir,
		ModelDir:    p.ModelDir,
		ModelType:   p.ModelType,
		ScaleMode:   p.ScaleMode.String(),
		Renderer:    p.Renderer.String(),
		Backend:     p.Backend.String(),
		Image:       p.Image,
		Env:         p.Env,
	}
	imageCount := p.ImageCount
	r.ImageCount = &imageCount

	ptr := func(v int) *int {
		if v == 0 {
			return nil
		}
		return &v
	}
	r.ImageSize = ptr(p.ImageSize)
	r.UsedImageCount = ptr(p.UsedImageCount)
	r.Epochs = ptr(p.Epochs)
	r.SaveFrequency = ptr(p.SaveFrequency)
	r.ValidationFrequency = ptr(p.ValidationFrequency)

	flag := func(v bool) *bool {
		if !v {
			return nil
		}
		return &v
	}
	r.Retrain = flag(p.Retrain)
	r.UseCoords = flag(p.UseCoords)
	r.NoSVBRDFInput = flag(p.NoSVBRDFInput)
	r.LinearInput = flag(p.LinearInput)
	return r
}

// resolvePath expands ~ and $VARS and makes p absolute relative to base.
func resolvePath(p, base string) (string, error) {
	if p == "" {
		return "", nil
	}
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %q: %w", p, err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	return filepath.Clean(p), nil
}

// baseDir is the directory relative profile paths resolve against: the
// file's directory, or the project directory for a file kept in
// .svbrdf-run/.
func (f *File) baseDir() (string, error) {
	if f.Path == "" {
		return os.Getwd()
	}
	dir := filepath.Dir(f.Path)
	if filepath.Base(dir) == ProfileDirName {
		return filepath.Dir(dir), nil
	}
	return dir, nil
}

// Resolve returns the named profile with defaults merged, paths resolved
// to absolute form and invariants validated.
//
// Returns a CLIError with ExitProfileNotFound for an unknown name and
// ExitInvalidProfile when validation fails.
func (f *File) Resolve(name string) (*model.RunProfile, error) {
	own, ok := f.Profiles[name]
	if !ok {
		available := "none"
		if names := f.Names(); len(names) > 0 {
			available = strings.Join(names, ", ")
		}
		return nil, model.NewCLIError(
			model.ExitProfileNotFound,
			fmt.Sprintf("profile %q not found (available: %s)", name, available),
		)
	}

	merged := own.merge(f.Defaults)
	if strings.EqualFold(merged.Mode, string(model.ModeTest)) {
		merged = dropInheritedTrainFields(merged, own)
	}

	p, err := toRunProfile(name, merged)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidProfile, "invalid profile", err)
	}

	base, err := f.baseDir()
	if err != nil {
		return nil, fmt.Errorf("failed to determine profile base directory: %w", err)
	}
	if p.InputDir, err = resolvePath(p.InputDir, base); err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidProfile, "invalid input-dir", err)
	}
	if p.ModelDir, err = resolvePath(p.ModelDir, base); err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidProfile, "invalid model-dir", err)
	}

	if err := p.Validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidProfile, "invalid profile", err)
	}
	return p, nil
}

// ResolveAll resolves every profile and joins all failures into one
// error, so "profiles validate" reports every broken profile at once.
func (f *File) ResolveAll() ([]*model.RunProfile, error) {
	var (
		profiles []*model.RunProfile
		errs     []error
	)
	for _, name := range f.Names() {
		p, err := f.Resolve(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		profiles = append(profiles, p)
	}
	if len(errs) > 0 {
		return profiles, model.WrapCLIError(
			model.ExitInvalidProfile,
			fmt.Sprintf("%d of %d profiles are invalid", len(errs), len(f.Profiles)),
			errors.Join(errs...),
		)
	}
	return profiles, nil
}
