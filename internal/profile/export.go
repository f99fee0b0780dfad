package profile

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/svbrdf-run/internal/args"
	"github.com/mmr-tortoise/svbrdf-run/internal/docker"
	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// ExportFormat selects the output of Export.
type ExportFormat string

const (
	// ExportShell renders a standalone POSIX launch script.
	ExportShell ExportFormat = "sh"

	// ExportCompose renders a docker compose file with one service.
	ExportCompose ExportFormat = "compose"
)

// ParseExportFormat converts a string to an ExportFormat.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(s)); f {
	case ExportShell, ExportCompose:
		return f, nil
	default:
		return "", fmt.Errorf("invalid export format: %q (valid: sh, compose)", s)
	}
}

// ExportOptions carries the launcher settings an export needs besides the
// profile itself.
type ExportOptions struct {
	Entrypoint args.Entrypoint

	// Image overrides the profile's image for compose exports.
	Image string

	// Workdir is the container working directory for compose exports.
	Workdir string

	GPUs bool
}

// Export renders p in the requested format.
func Export(p *model.RunProfile, opts ExportOptions, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportShell:
		return []byte(exportShell(p, opts)), nil
	case ExportCompose:
		return exportCompose(p, opts)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// shellVar converts a flag name to a shell variable name: input-dir → INPUT_DIR.
func shellVar(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// exportShell writes the variable-assignments-then-one-call layout of a
// classic launch script.
func exportShell(p *model.RunProfile, opts ExportOptions) string {
	var b strings.Builder

	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "# %s", p.Name)
	if p.Description != "" {
		fmt.Fprintf(&b, ": %s", p.Description)
	}
	b.WriteString("\n# Generated by svbrdf-run export.\nset -e\n\n")

	if len(p.Env) > 0 {
		keys := make([]string, 0, len(p.Env))
		for k := range p.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "export %s=%s\n", k, args.QuoteWord(p.Env[k]))
		}
		b.WriteString("\n")
	}

	fields := args.Fields(p)
	for _, f := range fields {
		if !f.Switch {
			fmt.Fprintf(&b, "%s=%s\n", shellVar(f.Flag), args.QuoteWord(f.Value))
		}
	}
	b.WriteString("\n")

	b.WriteString("exec")
	if opts.Entrypoint.Interpreter != "" {
		b.WriteString(" " + args.QuoteWord(opts.Entrypoint.Interpreter))
	}
	b.WriteString(" " + args.QuoteWord(opts.Entrypoint.Script))
	for _, f := range fields {
		if f.Switch {
			fmt.Fprintf(&b, " \\\n  --%s", f.Flag)
		} else {
			fmt.Fprintf(&b, " \\\n  --%s \"$%s\"", f.Flag, shellVar(f.Flag))
		}
	}
	b.WriteString("\n")
	return b.String()
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Image       string            `yaml:"image"`
	WorkingDir  string            `yaml:"working_dir,omitempty"`
	Command     []string          `yaml:"command,flow"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Labels      map[string]string `yaml:"labels"`
	Volumes     []composeVolume   `yaml:"volumes"`
	Deploy      *composeDeploy    `yaml:"deploy,omitempty"`
}

type composeVolume struct {
	Type     string `yaml:"type"`
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"read_only,omitempty"`
}

type composeDeploy struct {
	Resources struct {
		Reservations struct {
			Devices []composeDevice `yaml:"devices"`
		} `yaml:"reservations"`
	} `yaml:"resources"`
}

type composeDevice struct {
	Driver       string   `yaml:"driver"`
	Count        string   `yaml:"count"`
	Capabilities []string `yaml:"capabilities,flow"`
}

// exportCompose renders a compose service equivalent to a docker-backend
// run: same mounts, same rewritten paths, same labels minus the run ID.
func exportCompose(p *model.RunProfile, opts ExportOptions) ([]byte, error) {
	img := opts.Image
	if img == "" {
		img = p.Image
	}
	if img == "" {
		return nil, model.NewCLIError(model.ExitInvalidProfile,
			fmt.Sprintf("profile %q has no docker image; set image in the profile or pass --image", p.Name))
	}

	svc := composeService{
		Image:       img,
		WorkingDir:  opts.Workdir,
		Command:     args.Command(opts.Entrypoint, docker.ForContainer(p)),
		Environment: p.Env,
		Labels: docker.BuildLabels(docker.RunLabels{
			Profile:  p.Name,
			Mode:     p.Mode,
			ModelDir: p.ModelDir,
		}),
		Volumes: []composeVolume{
			{Type: "bind", Source: p.InputDir, Target: docker.ContainerInputDir, ReadOnly: true},
			{Type: "bind", Source: p.ModelDir, Target: docker.ContainerModelDir},
		},
	}
	if opts.GPUs {
		d := &composeDeploy{}
		d.Resources.Reservations.Devices = []composeDevice{
			{Driver: "nvidia", Count: "all", Capabilities: []string{"gpu"}},
		}
		svc.Deploy = d
	}

	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(composeFile{Services: map[string]composeService{p.Name: svc}}); err != nil {
		return nil, fmt.Errorf("encode compose file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode compose file: %w", err)
	}
	return []byte(b.String()), nil
}
