package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/svbrdf-run/internal/model"
	"github.com/mmr-tortoise/svbrdf-run/internal/port"
)

// isolateHome points HOME at a temp dir so a developer's real
// ~/.svbrdf-run/config.yaml never leaks into tests.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLoad_Defaults(t *testing.T) {
	home := isolateHome(t)

	s, err := NewLoader().Load("")
	require.NoError(t, err)

	assert.Equal(t, "python3", s.Python)
	assert.Equal(t, "main.py", s.Entrypoint)
	assert.Equal(t, model.BackendLocal, s.Backend)
	assert.Equal(t, "/workspace", s.DockerWorkdir)
	assert.Equal(t, filepath.Join(home, ".svbrdf-run", "history.db"), s.HistoryPath)
	assert.Equal(t, "checkpoint*", s.CheckpointGlob)
	assert.Equal(t, 10*time.Second, s.StopGrace)
	assert.Equal(t, port.Range{Start: 6006, End: 6106}, s.DashboardPorts)
	assert.Empty(t, s.ConfigFile)
}

// TestLoad_DefaultFile verifies that ~/.svbrdf-run/config.yaml is picked
// up without --config.
func TestLoad_DefaultFile(t *testing.T) {
	home := isolateHome(t)
	dir := filepath.Join(home, ".svbrdf-run")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
python: /opt/conda/bin/python
docker:
  image: svbrdf/trainer:latest
  gpus: true
`), 0o644))

	s, err := NewLoader().Load("")
	require.NoError(t, err)

	assert.Equal(t, "/opt/conda/bin/python", s.Python)
	assert.Equal(t, "svbrdf/trainer:latest", s.DockerImage)
	assert.True(t, s.DockerGPUs)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), s.ConfigFile)
}

// TestLoad_Precedence verifies flags > env > file.
func TestLoad_Precedence(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "launcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
python: file-python
entrypoint: file-main.py
backend: docker
history:
  path: ~/runs.db
`), 0o644))

	t.Setenv("SVBRDF_RUN_ENTRYPOINT", "env-main.py")
	t.Setenv("SVBRDF_RUN_DOCKER_IMAGE", "env/image:1")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("python", "", "")
	require.NoError(t, fs.Parse([]string{"--python", "flag-python"}))

	l := NewLoader()
	require.NoError(t, l.BindFlag(KeyPython, fs.Lookup("python")))

	s, err := l.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "flag-python", s.Python)
	assert.Equal(t, "env-main.py", s.Entrypoint)
	assert.Equal(t, "env/image:1", s.DockerImage)
	assert.Equal(t, model.BackendDocker, s.Backend)
	assert.Equal(t, path, s.ConfigFile)

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "runs.db"), s.HistoryPath)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	isolateHome(t)

	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitGeneralError, cliErr.Code)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
	}{
		{"backend", "SVBRDF_RUN_BACKEND", "slurm"},
		{"stop grace", "SVBRDF_RUN_STOP_GRACE", "soon"},
		{"dashboard ports", "SVBRDF_RUN_DASHBOARD_PORTS", "9000-8000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateHome(t)
			t.Setenv(tt.env, tt.val)

			_, err := NewLoader().Load("")
			assert.Error(t, err)
		})
	}
}

func TestBindFlag_Undefined(t *testing.T) {
	assert.Error(t, NewLoader().BindFlag(KeyPython, nil))
}
