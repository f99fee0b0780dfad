// Package config loads launcher settings with spf13/viper.
//
// Settings describe how svbrdf-run launches the trainer (interpreter,
// script, docker image, history location), not what the trainer does;
// the latter lives in run profiles. Precedence, highest first:
// command-line flags bound with BindFlag, SVBRDF_RUN_* environment
// variables, the config file, built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mmr-tortoise/svbrdf-run/internal/model"
	"github.com/mmr-tortoise/svbrdf-run/internal/port"
)

// EnvPrefix is prepended to every environment variable, e.g.
// SVBRDF_RUN_DOCKER_IMAGE for docker.image.
const EnvPrefix = "SVBRDF_RUN"

// Keys understood in the config file.
const (
	KeyPython          = "python"
	KeyEntrypoint      = "entrypoint"
	KeyBackend         = "backend"
	KeyDockerImage     = "docker.image"
	KeyDockerGPUs      = "docker.gpus"
	KeyDockerWorkdir   = "docker.workdir"
	KeyHistoryPath     = "history.path"
	KeyCheckpointGlob  = "checkpoint.glob"
	KeyStopGrace       = "stop-grace"
	KeyTensorboard     = "tensorboard"
	KeyDashboardPorts  = "dashboard.ports"
	KeyProfilesFile    = "profiles"
	defaultConfigName  = "config"
	defaultConfigType  = "yaml"
	defaultBaseDirName = ".svbrdf-run"
)

// Settings is the resolved launcher configuration.
type Settings struct {
	Python         string
	Entrypoint     string
	Backend        model.Backend
	DockerImage    string
	DockerGPUs     bool
	DockerWorkdir  string
	HistoryPath    string
	CheckpointGlob string

	// StopGrace is how long a cancelled trainer gets to exit after SIGINT
	// before it is killed.
	StopGrace      time.Duration
	Tensorboard    string
	DashboardPorts port.Range

	// ProfilesFile is an explicit profile file; empty means search the
	// working directory.
	ProfilesFile string

	// ConfigFile is the config file that was read, if any.
	ConfigFile string
}

// Loader wraps a private viper instance so tests never touch global state.
type Loader struct {
	v *viper.Viper
}

// BaseDir returns ~/.svbrdf-run, falling back to the working directory
// when the home directory cannot be determined.
func BaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultBaseDirName
	}
	return filepath.Join(home, defaultBaseDirName)
}

// NewLoader creates a Loader with defaults and environment binding set up.
func NewLoader() *Loader {
	v := viper.New()

	v.SetDefault(KeyPython, "python3")
	v.SetDefault(KeyEntrypoint, "main.py")
	v.SetDefault(KeyBackend, string(model.BackendLocal))
	v.SetDefault(KeyDockerImage, "")
	v.SetDefault(KeyDockerGPUs, false)
	v.SetDefault(KeyDockerWorkdir, "/workspace")
	v.SetDefault(KeyHistoryPath, filepath.Join(BaseDir(), "history.db"))
	v.SetDefault(KeyCheckpointGlob, "checkpoint*")
	v.SetDefault(KeyStopGrace, "10s")
	v.SetDefault(KeyTensorboard, "tensorboard")
	v.SetDefault(KeyDashboardPorts, "6006-6106")
	v.SetDefault(KeyProfilesFile, "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// BindFlag makes a command-line flag override the given key when the
// flag is set explicitly.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: flag not defined", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads the config file and returns the resolved settings.
//
// When path is empty, config.yaml in BaseDir is used if it exists; a
// missing default file is not an error. An explicit path must exist.
func (l *Loader) Load(path string) (*Settings, error) {
	if path != "" {
		l.v.SetConfigFile(path)
	} else {
		l.v.AddConfigPath(BaseDir())
		l.v.SetConfigName(defaultConfigName)
		l.v.SetConfigType(defaultConfigType)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, model.WrapCLIError(model.ExitGeneralError,
				"failed to read config file", err)
		}
	}

	return l.settings()
}

func (l *Loader) settings() (*Settings, error) {
	backend, err := model.ParseBackend(l.v.GetString(KeyBackend))
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "invalid configuration", err)
	}

	grace, err := time.ParseDuration(l.v.GetString(KeyStopGrace))
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("invalid configuration: %s", KeyStopGrace), err)
	}

	ports, err := port.ParseRange(l.v.GetString(KeyDashboardPorts))
	if err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("invalid configuration: %s", KeyDashboardPorts), err)
	}

	return &Settings{
		Python:         l.v.GetString(KeyPython),
		Entrypoint:     l.v.GetString(KeyEntrypoint),
		Backend:        backend,
		DockerImage:    l.v.GetString(KeyDockerImage),
		DockerGPUs:     l.v.GetBool(KeyDockerGPUs),
		DockerWorkdir:  l.v.GetString(KeyDockerWorkdir),
		HistoryPath:    expandHome(l.v.GetString(KeyHistoryPath)),
		CheckpointGlob: l.v.GetString(KeyCheckpointGlob),
		StopGrace:      grace,
		Tensorboard:    l.v.GetString(KeyTensorboard),
		DashboardPorts: ports,
		ProfilesFile:   expandHome(l.v.GetString(KeyProfilesFile)),
		ConfigFile:     l.v.ConfigFileUsed(),
	}, nil
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
