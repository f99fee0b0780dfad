package launcher

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmr-tortoise/svbrdf-run/internal/args"
	"github.com/mmr-tortoise/svbrdf-run/internal/docker"
	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// DockerRunner runs the trainer inside a Docker container.
type DockerRunner struct {
	Client *docker.Client

	// Image is used when the profile does not name one.
	Image string

	// Workdir is the container working directory; the entrypoint script
	// path is interpreted relative to it.
	Workdir string

	GPUs bool

	// Keep leaves the container in place after it exits.
	Keep bool

	StopGrace time.Duration

	// PullProgress receives the image pull progress stream.
	PullProgress io.Writer

	Logger *zap.Logger
}

// Spec builds the container description for a job. Exposed for dry runs.
func (r *DockerRunner) Spec(job Job) (docker.RunSpec, error) {
	p := job.Profile
	img := p.Image
	if img == "" {
		img = r.Image
	}
	if img == "" {
		return docker.RunSpec{}, model.NewCLIError(
			model.ExitInvalidProfile,
			fmt.Sprintf("profile %q has no docker image; set image in the profile, docker.image in the config, or pass --image", p.Name),
		)
	}

	env := trainerEnv(job)

	return docker.RunSpec{
		Name:    docker.ContainerName(p.Name, job.RunID),
		Image:   img,
		Cmd:     args.Command(job.Entrypoint, docker.ForContainer(p)),
		Workdir: r.Workdir,
		Env:     env,
		Labels: docker.BuildLabels(docker.RunLabels{
			RunID:     job.RunID,
			Profile:   p.Name,
			Mode:      p.Mode,
			ModelDir:  p.ModelDir,
			StartedAt: job.StartedAt,
		}),
		InputDir: p.InputDir,
		ModelDir: p.ModelDir,
		GPUs:     r.GPUs,
	}, nil
}

// Run creates and starts the container, follows its logs and waits for
// it to exit. Cancelling ctx stops the container with StopGrace.
func (r *DockerRunner) Run(ctx context.Context, job Job) (*Result, error) {
	log := nopIfNil(r.Logger)

	spec, err := r.Spec(job)
	if err != nil {
		return nil, err
	}

	err = r.Client.WaitReady(ctx, docker.DefaultReadyTimeout, func(err error, next time.Duration) {
		log.Info("waiting for Docker daemon", zap.Error(err), zap.Duration("retryIn", next))
	})
	if err != nil {
		return nil, err
	}

	if err := docker.EnsureImage(ctx, r.Client, spec.Image, r.PullProgress); err != nil {
		return nil, err
	}

	log.Debug("creating container", zap.String("name", spec.Name), zap.String("image", spec.Image),
		zap.String("cmd", strings.Join(spec.Cmd, " ")))
	id, err := docker.CreateContainer(ctx, r.Client, spec)
	if err != nil {
		return nil, err
	}

	// Cleanup and waiting must outlive a cancelled ctx.
	bg := context.WithoutCancel(ctx)
	if !r.Keep {
		defer func() {
			if err := docker.RemoveContainer(bg, r.Client, id, true); err != nil {
				log.Warn("failed to remove container", zap.String("container", id), zap.Error(err))
			}
		}()
	}

	result := &Result{ContainerID: id, StartedAt: time.Now()}
	if err := docker.StartContainer(ctx, r.Client, id); err != nil {
		return nil, err
	}

	var (
		g      errgroup.Group
		status int
		exited = make(chan struct{})
	)
	g.Go(func() error {
		return docker.StreamLogs(bg, r.Client, id, writerOrDiscard(job.Stdout), writerOrDiscard(job.Stderr))
	})
	g.Go(func() error {
		defer close(exited)
		var err error
		status, err = docker.WaitContainer(bg, r.Client, id)
		return err
	})
	g.Go(func() error {
		select {
		case <-exited:
			return nil
		case <-ctx.Done():
			log.Info("stopping container", zap.String("container", id), zap.Duration("grace", r.StopGrace))
			return docker.StopContainer(bg, r.Client, id, r.StopGrace)
		}
	})

	err = g.Wait()
	result.FinishedAt = time.Now()
	result.ExitCode = status
	result.Cancelled = ctx.Err() != nil
	return result, err
}
