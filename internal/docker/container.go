package docker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// Paths the input and model directories are mounted at inside a trainer
// container.
const (
	ContainerInputDir = "/data/input"
	ContainerModelDir = "/data/model"
)

// ForContainer returns a copy of p whose directories point at the
// container mount points. The host directories are mounted there by
// BuildConfig.
func ForContainer(p *model.RunProfile) *model.RunProfile {
	c := p.Clone()
	c.InputDir = ContainerInputDir
	c.ModelDir = ContainerModelDir
	return c
}

// ContainerName returns the container name for a run,
// e.g. "svbrdf-train-a-1f2e3d4c".
func ContainerName(profile, runID string) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("svbrdf-%s-%s", profile, short)
}

// RunSpec describes a trainer container.
type RunSpec struct {
	Name    string
	Image   string
	Cmd     []string
	Workdir string
	Env     map[string]string
	Labels  map[string]string

	// InputDir and ModelDir are host paths. The input directory is
	// mounted read-only; the trainer writes checkpoints and logs into the
	// model directory.
	InputDir string
	ModelDir string

	// GPUs requests every GPU on the host, like "docker run --gpus all".
	GPUs bool
}

// BuildConfig converts a RunSpec into SDK container and host configs.
func BuildConfig(spec RunSpec) (*container.Config, *container.HostConfig) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Cmd,
		WorkingDir: spec.Workdir,
		Env:        env,
		Labels:     spec.Labels,
	}

	host := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: spec.InputDir, Target: ContainerInputDir, ReadOnly: true},
			{Type: mount.TypeBind, Source: spec.ModelDir, Target: ContainerModelDir},
		},
	}
	if spec.GPUs {
		host.Resources.DeviceRequests = []container.DeviceRequest{
			{Count: -1, Capabilities: [][]string{{"gpu"}}},
		}
	}
	return cfg, host
}

// EnsureImage pulls ref unless it is already present locally. Pull
// progress JSON is written to progress when non-nil.
func EnsureImage(ctx context.Context, cli *Client, ref string, progress io.Writer) error {
	if _, err := cli.Inner().ImageInspect(ctx, ref); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to inspect image %q", ref), err)
	}

	rc, err := cli.Inner().ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to pull image %q", ref), err)
	}
	defer rc.Close()

	if progress == nil {
		progress = io.Discard
	}
	if _, err := io.Copy(progress, rc); err != nil {
		return fmt.Errorf("pull image %q: %w", ref, err)
	}
	return nil
}

// CreateContainer creates (but does not start) the trainer container.
func CreateContainer(ctx context.Context, cli *Client, spec RunSpec) (string, error) {
	cfg, host := BuildConfig(spec)
	resp, err := cli.Inner().ContainerCreate(ctx, cfg, host, nil, nil, spec.Name)
	if err != nil {
		return "", model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create container %q", spec.Name),
			err,
		)
	}
	return resp.ID, nil
}

// StartContainer starts a created container.
func StartContainer(ctx context.Context, cli *Client, containerID string) error {
	if err := cli.Inner().ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to start container %q", containerID),
			err,
		)
	}
	return nil
}

// StreamLogs follows the container's output until it exits, splitting the
// multiplexed stream into stdout and stderr.
func StreamLogs(ctx context.Context, cli *Client, containerID string, stdout, stderr io.Writer) error {
	rc, err := cli.Inner().ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("attach to logs of %s: %w", containerID, err)
	}
	defer rc.Close()

	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read logs of %s: %w", containerID, err)
	}
	return nil
}

// WaitContainer blocks until the container stops and returns its exit status.
func WaitContainer(ctx context.Context, cli *Client, containerID string) (int, error) {
	statusCh, errCh := cli.Inner().ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case resp := <-statusCh:
		if resp.Error != nil && resp.Error.Message != "" {
			return int(resp.StatusCode), fmt.Errorf("wait for %s: %s", containerID, resp.Error.Message)
		}
		return int(resp.StatusCode), nil
	case err := <-errCh:
		return -1, fmt.Errorf("wait for %s: %w", containerID, err)
	}
}

// StopContainer sends SIGTERM and kills the container after grace.
func StopContainer(ctx context.Context, cli *Client, containerID string, grace time.Duration) error {
	timeout := int(grace.Seconds())
	err := cli.Inner().ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	if err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to stop container %q", containerID),
			err,
		)
	}
	return nil
}

// RemoveContainer removes a container; force kills it first if running.
func RemoveContainer(ctx context.Context, cli *Client, containerID string, force bool) error {
	err := cli.Inner().ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force: force,
	})
	if err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to remove container %q", containerID),
			err,
		)
	}
	return nil
}

// RunContainer is a managed trainer container as reported by "ps".
type RunContainer struct {
	ContainerID   string `json:"containerId"`
	ContainerName string `json:"containerName"`

	// State is Docker's short state, e.g. "running" or "exited".
	State string `json:"state"`

	// Status is Docker's human readable status, e.g. "Up 5 minutes".
	Status string `json:"status"`

	RunID     string        `json:"runId"`
	Profile   string        `json:"profile"`
	Mode      model.RunMode `json:"mode"`
	ModelDir  string        `json:"modelDir"`
	StartedAt time.Time     `json:"startedAt"`
}

// ListManagedRuns returns every container labelled as managed by
// svbrdf-run, including stopped ones, newest first. Containers whose
// labels cannot be parsed are skipped.
func ListManagedRuns(ctx context.Context, cli *Client) ([]RunContainer, error) {
	containers, err := cli.Inner().ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", managedFilter())),
	})
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			"failed to list Docker containers",
			err,
		)
	}

	runs := make([]RunContainer, 0, len(containers))
	for _, c := range containers {
		if rc, ok := summaryToRun(c); ok {
			runs = append(runs, rc)
		}
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// summaryToRun converts an SDK container summary to a RunContainer.
func summaryToRun(c container.Summary) (RunContainer, bool) {
	labels, err := ParseLabels(c.Labels)
	if err != nil {
		return RunContainer{}, false
	}

	name := ""
	if len(c.Names) > 0 {
		// The API reports names with a leading "/".
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	return RunContainer{
		ContainerID:   c.ID,
		ContainerName: name,
		State:         string(c.State),
		Status:        c.Status,
		RunID:         labels.RunID,
		Profile:       labels.Profile,
		Mode:          labels.Mode,
		ModelDir:      labels.ModelDir,
		StartedAt:     labels.StartedAt,
	}, true
}

// FindRun returns the managed container whose run ID starts with prefix.
//
// Returns a CLIError with ExitRunNotFound when no container matches and
// ExitGeneralError when the prefix is ambiguous.
func FindRun(runs []RunContainer, prefix string) (*RunContainer, error) {
	var matches []int
	for i, r := range runs {
		if strings.HasPrefix(r.RunID, prefix) {
			matches = append(matches, i)
		}
	}

	switch len(matches) {
	case 0:
		return nil, model.NewCLIError(
			model.ExitRunNotFound,
			fmt.Sprintf("no container found for run %q", prefix),
		)
	case 1:
		return &runs[matches[0]], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = runs[m].RunID
		}
		return nil, model.NewCLIError(
			model.ExitGeneralError,
			fmt.Sprintf("run ID prefix %q is ambiguous: %s", prefix, strings.Join(ids, ", ")),
		)
	}
}
