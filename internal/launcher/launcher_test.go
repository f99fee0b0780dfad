package launcher

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/svbrdf-run/internal/args"
	"github.com/mmr-tortoise/svbrdf-run/internal/docker"
	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

func testProfile() *model.RunProfile {
	return &model.RunProfile{
		Name:       "test-a",
		Mode:       model.ModeTest,
		InputDir:   "/data/test",
		ImageCount: 1,
		ModelDir:   "/models/a",
		Env:        map[string]string{"EXTRA": "yes"},
	}
}

// fakeTrainer writes a shell script standing in for main.py.
func fakeTrainer(t *testing.T, body string) args.Entrypoint {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake trainer needs /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "main.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return args.Entrypoint{Interpreter: "/bin/sh", Script: path}
}

// TestLocalRunner_ForwardsArgs verifies that the trainer receives exactly
// the built arguments, runs in the script's directory and sees the run ID.
func TestLocalRunner_ForwardsArgs(t *testing.T) {
	ep := fakeTrainer(t, `echo "args:$*"
echo "dir:$(pwd)"
echo "id:$SVBRDF_RUN_ID extra:$EXTRA"
echo "unbuffered:$PYTHONUNBUFFERED"
echo "oops" >&2
`)
	var stdout, stderr bytes.Buffer

	res, err := NewLocalRunner(time.Second, nil).Run(context.Background(), Job{
		RunID:      "run-1",
		Profile:    testProfile(),
		Entrypoint: ep,
		Stdout:     &stdout,
		Stderr:     &stderr,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.Cancelled)
	assert.Equal(t, model.StatusSucceeded, res.Status())
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	wantDir, err := filepath.EvalSymlinks(filepath.Dir(ep.Script))
	require.NoError(t, err)
	out := stdout.String()
	assert.Contains(t, out, "args:--mode test --input-dir /data/test --image-count 1 --model-dir /models/a\n")
	assert.Contains(t, out, "dir:"+wantDir+"\n")
	assert.Contains(t, out, "id:run-1 extra:yes\n")
	assert.Contains(t, out, "unbuffered:1\n")
	assert.Equal(t, "oops\n", stderr.String())
}

// TestLocalRunner_ExitCode verifies that a failing trainer is a result,
// not an error, and that its exit status is preserved.
func TestLocalRunner_ExitCode(t *testing.T) {
	ep := fakeTrainer(t, `echo "No model found in the model directory but it is required for testing."
exit 3
`)

	res, err := NewLocalRunner(time.Second, nil).Run(context.Background(), Job{
		RunID: "run-2", Profile: testProfile(), Entrypoint: ep,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, model.StatusFailed, res.Status())
}

// TestLocalRunner_Cancel verifies that cancelling the context interrupts
// the trainer and marks the result as cancelled.
func TestLocalRunner_Cancel(t *testing.T) {
	ep := fakeTrainer(t, `trap 'echo interrupted; exit 130' INT
echo started
while true; do sleep 0.1; done
`)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdout := &syncBuffer{}
	go func() {
		for !strings.Contains(stdout.String(), "started") {
			time.Sleep(10 * time.Millisecond)
		}
		cancel()
	}()

	res, err := NewLocalRunner(5*time.Second, nil).Run(ctx, Job{
		RunID: "run-3", Profile: testProfile(), Entrypoint: ep, Stdout: stdout,
	})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, model.StatusCancelled, res.Status())
	assert.Equal(t, 130, res.ExitCode)
	assert.Contains(t, stdout.String(), "interrupted")
}

// TestLocalRunner_CancelKillsAfterGrace verifies that a trainer ignoring
// SIGINT is killed once the grace period expires.
func TestLocalRunner_CancelKillsAfterGrace(t *testing.T) {
	ep := fakeTrainer(t, `trap '' INT
echo started
while true; do sleep 0.1; done
`)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdout := &syncBuffer{}
	cancelled := make(chan time.Time, 1)
	go func() {
		for !strings.Contains(stdout.String(), "started") {
			time.Sleep(10 * time.Millisecond)
		}
		cancelled <- time.Now()
		cancel()
	}()

	grace := 300 * time.Millisecond
	res, err := NewLocalRunner(grace, nil).Run(ctx, Job{
		RunID: "run-5", Profile: testProfile(), Entrypoint: ep, Stdout: stdout,
	})
	require.NoError(t, err)
	elapsed := time.Since(<-cancelled)

	assert.True(t, res.Cancelled)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, model.StatusCancelled, res.Status())
	assert.GreaterOrEqual(t, elapsed, grace)
	assert.Less(t, elapsed, grace+3*time.Second)
}

func TestTrainerEnv(t *testing.T) {
	tests := []struct {
		name    string
		profile map[string]string
		want    map[string]string
	}{
		{
			name: "defaults",
			want: map[string]string{PythonUnbufferedEnv: "1", RunIDEnv: "r"},
		},
		{
			name:    "profile overrides unbuffered",
			profile: map[string]string{PythonUnbufferedEnv: "", "A": "b"},
			want:    map[string]string{PythonUnbufferedEnv: "", "A": "b", RunIDEnv: "r"},
		},
		{
			name:    "run ID cannot be overridden",
			profile: map[string]string{RunIDEnv: "other"},
			want:    map[string]string{PythonUnbufferedEnv: "1", RunIDEnv: "r"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := Job{RunID: "r", Profile: &model.RunProfile{Env: tt.profile}}
			assert.Equal(t, tt.want, trainerEnv(job))
		})
	}
	assert.Equal(t, []string{"PYTHONUNBUFFERED=1", "SVBRDF_RUN_ID=r"}, environ(Job{RunID: "r", Profile: &model.RunProfile{}}))
}

func TestLocalRunner_MissingInterpreter(t *testing.T) {
	_, err := NewLocalRunner(time.Second, nil).Run(context.Background(), Job{
		RunID:      "run-4",
		Profile:    testProfile(),
		Entrypoint: args.Entrypoint{Interpreter: "/nonexistent/python", Script: "main.py"},
	})
	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitGeneralError, cliErr.Code)
}

func TestDockerRunner_Spec(t *testing.T) {
	startedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &DockerRunner{Image: "svbrdf/trainer:latest", Workdir: "/workspace", GPUs: true}

	spec, err := r.Spec(Job{
		RunID:      "1f2e3d4c-0000-4000-8000-000000000001",
		Profile:    testProfile(),
		Entrypoint: args.Entrypoint{Interpreter: "python3", Script: "main.py"},
		StartedAt:  startedAt,
	})
	require.NoError(t, err)

	assert.Equal(t, "svbrdf-test-a-1f2e3d4c", spec.Name)
	assert.Equal(t, "svbrdf/trainer:latest", spec.Image)
	assert.Equal(t, []string{
		"python3", "main.py",
		"--mode", "test",
		"--input-dir", docker.ContainerInputDir,
		"--image-count", "1",
		"--model-dir", docker.ContainerModelDir,
	}, spec.Cmd)
	assert.Equal(t, "/data/test", spec.InputDir, "host paths are mounted")
	assert.Equal(t, "/models/a", spec.ModelDir)
	assert.Equal(t, map[string]string{
		"EXTRA":             "yes",
		PythonUnbufferedEnv: "1",
		RunIDEnv:            "1f2e3d4c-0000-4000-8000-000000000001",
	}, spec.Env)
	assert.True(t, spec.GPUs)

	labels, err := docker.ParseLabels(spec.Labels)
	require.NoError(t, err)
	assert.Equal(t, "test-a", labels.Profile)
	assert.Equal(t, "/models/a", labels.ModelDir)
	assert.Equal(t, startedAt, labels.StartedAt)
}

func TestDockerRunner_SpecImage(t *testing.T) {
	p := testProfile()

	_, err := (&DockerRunner{}).Spec(Job{Profile: p, RunID: "x"})
	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitInvalidProfile, cliErr.Code)

	p.Image = "profile/image:2"
	spec, err := (&DockerRunner{Image: "config/image:1"}).Spec(Job{Profile: p, RunID: "x"})
	require.NoError(t, err)
	assert.Equal(t, "profile/image:2", spec.Image, "profile image wins over the configured default")
}

// syncBuffer is a bytes.Buffer safe for one writer and one poller.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
