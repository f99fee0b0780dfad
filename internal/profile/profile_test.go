package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/svbrdf-run/internal/args"
	"github.com/mmr-tortoise/svbrdf-run/internal/docker"
	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

const sampleYAML = `
defaults:
  image-count: 1
  model-type: multi
  scale-mode: crop
  image-size: 256
  used-image-count: 1
  epochs: 100
  validation-frequency: 10
  env:
    CUDA_VISIBLE_DEVICES: "0"
profiles:
  train:
    mode: train
    input-dir: data/train
    model-dir: models/a
    save-frequency: 5
    env:
      OMP_NUM_THREADS: "4"
  test:
    mode: test
    input-dir: data/test
    model-dir: models/a
`

// writeFile writes content to dir/name and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "svbrdf-run.yaml", sampleYAML},
		{"jsonc", "svbrdf-run.jsonc", `{
  // shared settings
  "defaults": {"image-count": 1},
  "profiles": {
    "test": {"mode": "test", "input-dir": "data/test", "model-dir": "models/a",},
  },
}`},
		{"toml", "svbrdf-run.toml", `
[defaults]
image-count = 1

[profiles.test]
mode = "test"
input-dir = "data/test"
model-dir = "models/a"
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeFile(t, dir, tt.file, tt.content)

			f, err := LoadFile(path)
			require.NoError(t, err)
			assert.Equal(t, path, f.Path)
			assert.Contains(t, f.Names(), "test")

			p, err := f.Resolve("test")
			require.NoError(t, err)
			assert.Equal(t, model.ModeTest, p.Mode)
			assert.Equal(t, 1, p.ImageCount)
			assert.Equal(t, filepath.Join(dir, "data", "test"), p.InputDir)
		})
	}
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
		code model.ExitCode
	}{
		{"missing", filepath.Join(dir, "none.yaml"), model.ExitProfileNotFound},
		{"unknown key", writeFile(t, dir, "a.yaml", "profiles:\n  x:\n    batch-size: 8\n"), model.ExitInvalidProfile},
		{"unknown toml key", writeFile(t, dir, "b.toml", "[profiles.x]\nbatch-size = 8\n"), model.ExitInvalidProfile},
		{"bad json", writeFile(t, dir, "c.json", "{"), model.ExitInvalidProfile},
		{"bad extension", writeFile(t, dir, "d.ini", "x=1"), model.ExitInvalidProfile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(tt.path)
			var cliErr *model.CLIError
			require.ErrorAs(t, err, &cliErr)
			assert.Equal(t, tt.code, cliErr.Code)
		})
	}
}

func TestDecode_EmptyYAML(t *testing.T) {
	f, err := Decode(nil, FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, f.Profiles)
}

func TestFindProfileFile(t *testing.T) {
	dir := t.TempDir()

	_, err := FindProfileFile(dir)
	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitProfileNotFound, cliErr.Code)

	hidden := writeFile(t, dir, ".svbrdf-run/svbrdf-run.toml", "")
	got, err := FindProfileFile(dir)
	require.NoError(t, err)
	assert.Equal(t, hidden, got)

	top := writeFile(t, dir, "svbrdf-run.yml", "")
	got, err = FindProfileFile(dir)
	require.NoError(t, err)
	assert.Equal(t, top, got, "the directory itself wins over .svbrdf-run/")
}

// TestResolve_MergesDefaults verifies that defaults fill unset fields and
// env maps are merged with the profile winning.
func TestResolve_MergesDefaults(t *testing.T) {
	dir := t.TempDir()
	f, err := LoadFile(writeFile(t, dir, "svbrdf-run.yaml", sampleYAML))
	require.NoError(t, err)

	p, err := f.Resolve("train")
	require.NoError(t, err)

	assert.Equal(t, "train", p.Name)
	assert.Equal(t, "multi", p.ModelType)
	assert.Equal(t, model.ScaleCrop, p.ScaleMode)
	assert.Equal(t, 256, p.ImageSize)
	assert.Equal(t, 100, p.Epochs)
	assert.Equal(t, 5, p.SaveFrequency)
	assert.Equal(t, 10, p.ValidationFrequency)
	assert.Equal(t, filepath.Join(dir, "models", "a"), p.ModelDir)
	assert.Equal(t, map[string]string{"CUDA_VISIBLE_DEVICES": "0", "OMP_NUM_THREADS": "4"}, p.Env)
}

// TestResolve_ProfileDir verifies that a file kept in .svbrdf-run/
// resolves relative paths against the project directory.
func TestResolve_ProfileDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ProfileDirName+"/svbrdf-run.yaml", sampleYAML)

	path, err := FindProfileFile(dir)
	require.NoError(t, err)
	f, err := LoadFile(path)
	require.NoError(t, err)

	p, err := f.Resolve("train")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "models", "a"), p.ModelDir)
}

// TestResolve_TestDropsInheritedTrainFields verifies that a test profile
// does not inherit train-only settings from defaults.
func TestResolve_TestDropsInheritedTrainFields(t *testing.T) {
	f, err := Decode([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)

	p, err := f.Resolve("test")
	require.NoError(t, err)

	assert.Empty(t, p.HasTrainOnlyFields())
	assert.Equal(t, []string{
		"--mode", "test",
		"--input-dir", p.InputDir,
		"--image-count", "1",
		"--model-dir", p.ModelDir,
	}, args.Build(p))
}

func TestResolve_TestRejectsOwnTrainFields(t *testing.T) {
	f, err := Decode([]byte(`
profiles:
  bad:
    mode: test
    input-dir: /in
    model-dir: /out
    epochs: 5
`), FormatYAML)
	require.NoError(t, err)

	_, err = f.Resolve("bad")
	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitInvalidProfile, cliErr.Code)
	assert.Contains(t, err.Error(), "epochs")
}

func TestResolve_UnknownProfile(t *testing.T) {
	f, err := Decode([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)

	_, err = f.Resolve("nope")
	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitProfileNotFound, cliErr.Code)
	assert.Contains(t, err.Error(), "test, train")
}

func TestResolve_ExpandsPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("DATA_ROOT", "/srv/data")

	f := &File{
		Path: "/etc/svbrdf/svbrdf-run.yaml",
		Profiles: map[string]Raw{
			"p": {Mode: "test", InputDir: "$DATA_ROOT/test", ModelDir: "~/models/../models/a"},
		},
	}

	p, err := f.Resolve("p")
	require.NoError(t, err)
	assert.Equal(t, "/srv/data/test", p.InputDir)
	assert.Equal(t, filepath.Join(home, "models", "a"), p.ModelDir)
}

func TestResolve_InvalidEnums(t *testing.T) {
	f := &File{Profiles: map[string]Raw{
		"p": {Mode: "train", InputDir: "/in", ModelDir: "/out", ScaleMode: "stretch", Renderer: "raytrace"},
	}}

	_, err := f.Resolve("p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scale mode")
	assert.Contains(t, err.Error(), "renderer")
}

// TestValidateFile verifies that every problem of every profile is reported.
func TestValidateFile(t *testing.T) {
	f, err := Decode([]byte(`
profiles:
  ok:
    mode: test
    input-dir: /in
    model-dir: /out
  broken:
    mode: train
    input-dir: /in
    model-dir: /out
    epochs: 0
    save-frequency: 0
  nomode:
    input-dir: /in
    model-dir: /out
`), FormatYAML)
	require.NoError(t, err)

	problems := ValidateFile(f)

	byProfile := map[string][]string{}
	for _, p := range problems {
		byProfile[p.Profile] = append(byProfile[p.Profile], p.Message)
	}
	assert.NotContains(t, byProfile, "ok")
	assert.GreaterOrEqual(t, len(byProfile["broken"]), 2, "each violation is listed separately")
	assert.NotEmpty(t, byProfile["nomode"])
}

func TestValidateFile_Empty(t *testing.T) {
	problems := ValidateFile(&File{})
	require.Len(t, problems, 1)
	assert.Equal(t, "(file)", problems[0].Profile)
}

func TestResolveAll(t *testing.T) {
	f := &File{Profiles: map[string]Raw{
		"a": {Mode: "test", InputDir: "/in", ModelDir: "/out"},
		"b": {Mode: "test"},
	}}

	profiles, err := f.ResolveAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 profiles are invalid")
	require.Len(t, profiles, 1)
	assert.Equal(t, "a", profiles[0].Name)
}

// TestBuiltin verifies that every stock profile resolves and that the
// retrain profile differs from the training profile only where expected.
func TestBuiltin(t *testing.T) {
	f := Builtin()
	assert.Equal(t, []string{"retrain-b", "test-a", "test-b", "train-a"}, f.Names())

	profiles, err := f.ResolveAll()
	require.NoError(t, err)
	require.Len(t, profiles, 4)

	train, err := f.Resolve("train-a")
	require.NoError(t, err)
	retrain, err := f.Resolve("retrain-b")
	require.NoError(t, err)

	assert.False(t, train.Retrain)
	assert.True(t, retrain.Retrain)
	assert.NotEqual(t, train.SaveFrequency, retrain.SaveFrequency)

	for _, name := range []string{"test-a", "test-b"} {
		p, err := f.Resolve(name)
		require.NoError(t, err)
		assert.Len(t, args.Build(p), 8, "%s forwards only mode, input-dir, image-count and model-dir", name)
	}
}

// TestFromRunProfile verifies that converting a resolved profile back to
// file form and resolving it again is lossless.
func TestFromRunProfile(t *testing.T) {
	f := Builtin()
	for _, name := range f.Names() {
		t.Run(name, func(t *testing.T) {
			want, err := f.Resolve(name)
			require.NoError(t, err)

			again := &File{Profiles: map[string]Raw{name: FromRunProfile(want)}}
			got, err := again.Resolve(name)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	for _, format := range []Format{FormatYAML, FormatJSON, FormatTOML} {
		t.Run(string(format), func(t *testing.T) {
			data, err := Encode(Builtin(), format)
			require.NoError(t, err)

			f, err := Decode(data, format)
			require.NoError(t, err)
			assert.Equal(t, Builtin().Profiles, f.Profiles)
		})
	}
}

func exportProfile() *model.RunProfile {
	return &model.RunProfile{
		Name:                "retrain-b",
		Description:         "Train model B from scratch",
		Mode:                model.ModeTrain,
		InputDir:            "/data/my train",
		ImageCount:          3,
		ModelDir:            "/models/b",
		ModelType:           "multi",
		ScaleMode:           model.ScaleCrop,
		ImageSize:           256,
		UsedImageCount:      3,
		Epochs:              1000,
		SaveFrequency:       100,
		ValidationFrequency: 25,
		Retrain:             true,
		Image:               "svbrdf/trainer:1",
		Env:                 map[string]string{"CUDA_VISIBLE_DEVICES": "0"},
	}
}

func TestExport_Shell(t *testing.T) {
	out, err := Export(exportProfile(), ExportOptions{
		Entrypoint: args.Entrypoint{Interpreter: "python3", Script: "main.py"},
	}, ExportShell)
	require.NoError(t, err)
	script := string(out)

	assert.True(t, strings.HasPrefix(script, "#!/bin/sh\n# retrain-b: Train model B from scratch\n"))
	assert.Contains(t, script, "export CUDA_VISIBLE_DEVICES=0\n")
	assert.Contains(t, script, "INPUT_DIR='/data/my train'\n")
	assert.Contains(t, script, "SAVE_FREQUENCY=100\n")
	assert.NotContains(t, script, "RETRAIN=")
	assert.Contains(t, script, "exec python3 main.py \\\n  --mode \"$MODE\"")
	assert.True(t, strings.HasSuffix(script, "  --retrain\n"))
}

func TestExport_Compose(t *testing.T) {
	out, err := Export(exportProfile(), ExportOptions{
		Entrypoint: args.Entrypoint{Interpreter: "python3", Script: "main.py"},
		Workdir:    "/workspace",
		GPUs:       true,
	}, ExportCompose)
	require.NoError(t, err)

	var doc composeFile
	require.NoError(t, yaml.Unmarshal(out, &doc))
	svc, ok := doc.Services["retrain-b"]
	require.True(t, ok)

	assert.Equal(t, "svbrdf/trainer:1", svc.Image)
	assert.Equal(t, "/workspace", svc.WorkingDir)
	assert.Equal(t, []string{"python3", "main.py", "--mode", "train", "--input-dir", docker.ContainerInputDir}, svc.Command[:6])
	assert.Contains(t, svc.Command, docker.ContainerModelDir)
	assert.Equal(t, docker.ManagedByValue, svc.Labels[docker.LabelManagedBy])
	assert.Equal(t, "/models/b", svc.Labels[docker.LabelModelDir])
	assert.NotContains(t, svc.Labels, docker.LabelRunID)
	require.Len(t, svc.Volumes, 2)
	assert.Equal(t, composeVolume{Type: "bind", Source: "/data/my train", Target: docker.ContainerInputDir, ReadOnly: true}, svc.Volumes[0])
	require.NotNil(t, svc.Deploy)
	assert.Equal(t, "all", svc.Deploy.Resources.Reservations.Devices[0].Count)
}

func TestExport_ComposeNeedsImage(t *testing.T) {
	p := exportProfile()
	p.Image = ""

	_, err := Export(p, ExportOptions{}, ExportCompose)
	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitInvalidProfile, cliErr.Code)

	_, err = Export(p, ExportOptions{Image: "override:1"}, ExportCompose)
	assert.NoError(t, err)
}

func TestParseExportFormat(t *testing.T) {
	f, err := ParseExportFormat("SH")
	require.NoError(t, err)
	assert.Equal(t, ExportShell, f)

	_, err = ParseExportFormat("k8s")
	assert.Error(t, err)
}
