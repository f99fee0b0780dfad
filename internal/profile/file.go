// Package profile loads named run profiles from a profile file.
//
// A profile file replaces a directory of launch scripts. It has a
// "defaults" section merged under every profile and a "profiles" map:
//
//	defaults:
//	  input-dir: ./data/train
//	  image-count: 1
//	profiles:
//	  train-a:
//	    mode: train
//	    model-dir: ./models/a
//	    epochs: 1000
//	    ...
//
// YAML (gopkg.in/yaml.v3), JSON with comments (github.com/tidwall/jsonc)
// and TOML (github.com/BurntSushi/toml) are accepted, chosen by extension.
// Keys are the trainer flag names.
package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// Format is a profile file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// FormatForPath picks the format from the file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported profile file extension %q (use .yaml, .yml, .json, .jsonc or .toml)", filepath.Ext(path))
	}
}

// Raw is one profile as written in the file. Numeric and boolean fields
// are pointers so a profile can distinguish "not set, inherit the
// default" from an explicit zero.
type Raw struct {
	Description         string            `yaml:"description,omitempty" json:"description,omitempty" toml:"description,omitempty"`
	Mode                string            `yaml:"mode,omitempty" json:"mode,omitempty" toml:"mode,omitempty"`
	InputDir            string            `yaml:"input-dir,omitempty" json:"input-dir,omitempty" toml:"input-dir,omitempty"`
	ImageCount          *int              `yaml:"image-count,omitempty" json:"image-count,omitempty" toml:"image-count,omitempty"`
	ModelDir            string            `yaml:"model-dir,omitempty" json:"model-dir,omitempty" toml:"model-dir,omitempty"`
	ModelType           string            `yaml:"model-type,omitempty" json:"model-type,omitempty" toml:"model-type,omitempty"`
	ScaleMode           string            `yaml:"scale-mode,omitempty" json:"scale-mode,omitempty" toml:"scale-mode,omitempty"`
	ImageSize           *int              `yaml:"image-size,omitempty" json:"image-size,omitempty" toml:"image-size,omitempty"`
	UsedImageCount      *int              `yaml:"used-image-count,omitempty" json:"used-image-count,omitempty" toml:"used-image-count,omitempty"`
	Epochs              *int              `yaml:"epochs,omitempty" json:"epochs,omitempty" toml:"epochs,omitempty"`
	SaveFrequency       *int              `yaml:"save-frequency,omitempty" json:"save-frequency,omitempty" toml:"save-frequency,omitempty"`
	ValidationFrequency *int              `yaml:"validation-frequency,omitempty" json:"validation-frequency,omitempty" toml:"validation-frequency,omitempty"`
	Renderer            string            `yaml:"renderer,omitempty" json:"renderer,omitempty" toml:"renderer,omitempty"`
	Retrain             *bool             `yaml:"retrain,omitempty" json:"retrain,omitempty" toml:"retrain,omitempty"`
	UseCoords           *bool             `yaml:"use-coords,omitempty" json:"use-coords,omitempty" toml:"use-coords,omitempty"`
	NoSVBRDFInput       *bool             `yaml:"no-svbrdf-input,omitempty" json:"no-svbrdf-input,omitempty" toml:"no-svbrdf-input,omitempty"`
	LinearInput         *bool             `yaml:"linear-input,omitempty" json:"linear-input,omitempty" toml:"linear-input,omitempty"`
	Backend             string            `yaml:"backend,omitempty" json:"backend,omitempty" toml:"backend,omitempty"`
	Image               string            `yaml:"image,omitempty" json:"image,omitempty" toml:"image,omitempty"`
	Env                 map[string]string `yaml:"env,omitempty" json:"env,omitempty" toml:"env,omitempty"`
}

// File is a parsed profile file.
type File struct {
	Defaults Raw            `yaml:"defaults,omitempty" json:"defaults,omitempty" toml:"defaults,omitempty"`
	Profiles map[string]Raw `yaml:"profiles" json:"profiles" toml:"profiles"`

	// Path is the file the profiles were read from. Relative directories
	// in profiles resolve against its directory (the project directory
	// for a file in .svbrdf-run/). Empty for built-ins,
	// which resolve against the working directory.
	Path string `yaml:"-" json:"-" toml:"-"`
}

// candidateNames lists profile file names in search order.
var candidateNames = []string{
	"svbrdf-run.yaml",
	"svbrdf-run.yml",
	"svbrdf-run.jsonc",
	"svbrdf-run.json",
	"svbrdf-run.toml",
}

// ProfileDirName is the project subdirectory searched after the project
// directory itself.
const ProfileDirName = ".svbrdf-run"

// FindProfileFile searches dir, then dir/.svbrdf-run, for a profile file.
//
// Returns a CLIError with ExitProfileNotFound when none exists.
func FindProfileFile(dir string) (string, error) {
	for _, base := range []string{dir, filepath.Join(dir, ProfileDirName)} {
		for _, name := range candidateNames {
			path := filepath.Join(base, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}
	return "", model.NewCLIError(
		model.ExitProfileNotFound,
		fmt.Sprintf("no profile file found in %s (searched %s and .svbrdf-run/)", dir, strings.Join(candidateNames, ", ")),
	)
}

// LoadFile reads and decodes a profile file.
//
// Returns a CLIError with ExitProfileNotFound if the file does not exist
// and ExitInvalidProfile if it cannot be decoded.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.WrapCLIError(
				model.ExitProfileNotFound,
				fmt.Sprintf("profile file not found: %s", path),
				err,
			)
		}
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}

	format, err := FormatForPath(path)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidProfile, "cannot load profile file", err)
	}

	f, err := Decode(data, format)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitInvalidProfile,
			fmt.Sprintf("failed to parse profile file %s", path),
			err,
		)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve profile file path: %w", err)
	}
	f.Path = abs
	return f, nil
}

// Decode parses profile file contents in the given format.
func Decode(data []byte, format Format) (*File, error) {
	var f File
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	case FormatJSON:
		// Profile files are hand-edited; allow // and /* */ comments and
		// trailing commas.
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, err
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
	default:
		return nil, fmt.Errorf("unsupported profile format %q", format)
	}
	return &f, nil
}

// Encode renders f in the given format.
func Encode(f *File, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		var b strings.Builder
		enc := yaml.NewEncoder(&b)
		enc.SetIndent(2)
		if err := enc.Encode(f); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return []byte(b.String()), nil
	case FormatJSON:
		data, err := json.MarshalIndent(f, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatTOML:
		var b strings.Builder
		if err := toml.NewEncoder(&b).Encode(f); err != nil {
			return nil, err
		}
		return []byte(b.String()), nil
	default:
		return nil, fmt.Errorf("unsupported profile format %q", format)
	}
}

// Names returns the profile names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Profiles))
	for name := range f.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
