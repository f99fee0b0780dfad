package docker

import (
	"fmt"
	"strings"
	"time"

	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// Label keys stored on every trainer container. They are the only state
// "ps", "stop" and "rm" need; the history database is not consulted.
const (
	// LabelPrefix namespaces all svbrdf-run labels.
	LabelPrefix = "svbrdf."

	// LabelManagedBy marks containers created by svbrdf-run.
	// Key: "svbrdf.managed-by", Value: always ManagedByValue.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelRunID stores the history run ID (a UUID).
	LabelRunID = LabelPrefix + "run-id"

	// LabelProfile stores the profile name the run was launched from.
	LabelProfile = LabelPrefix + "profile"

	// LabelMode stores the trainer mode, "train" or "test".
	LabelMode = LabelPrefix + "mode"

	// LabelModelDir stores the host path bind-mounted as the model directory.
	LabelModelDir = LabelPrefix + "model-dir"

	// LabelStartedAt stores the RFC3339 launch time.
	LabelStartedAt = LabelPrefix + "started-at"
)

// ManagedByValue is the value of LabelManagedBy.
const ManagedByValue = "svbrdf-run"

// RunLabels is the run metadata carried by container labels.
type RunLabels struct {
	RunID     string
	Profile   string
	Mode      model.RunMode
	ModelDir  string
	StartedAt time.Time
}

// BuildLabels converts run metadata into a Docker label map. RunID and
// StartedAt are omitted when unset, which is the case for exported
// compose files that are not tied to a particular run.
func BuildLabels(l RunLabels) map[string]string {
	labels := map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelProfile:   l.Profile,
		LabelMode:      l.Mode.String(),
		LabelModelDir:  l.ModelDir,
	}
	if l.RunID != "" {
		labels[LabelRunID] = l.RunID
	}
	if !l.StartedAt.IsZero() {
		labels[LabelStartedAt] = l.StartedAt.UTC().Format(time.RFC3339)
	}
	return labels
}

// ParseLabels reconstructs run metadata from container labels. It is the
// inverse of BuildLabels for containers launched by a run, so every key
// is required.
func ParseLabels(labels map[string]string) (*RunLabels, error) {
	required := []string{
		LabelManagedBy,
		LabelRunID,
		LabelProfile,
		LabelMode,
		LabelModelDir,
		LabelStartedAt,
	}

	var missing []string
	for _, key := range required {
		if _, ok := labels[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required Docker labels: %s", strings.Join(missing, ", "))
	}

	if labels[LabelManagedBy] != ManagedByValue {
		return nil, fmt.Errorf(
			"label %s has unexpected value %q (expected %q)",
			LabelManagedBy, labels[LabelManagedBy], ManagedByValue,
		)
	}

	mode, err := model.ParseRunMode(labels[LabelMode])
	if err != nil {
		return nil, fmt.Errorf("invalid label %s: %w", LabelMode, err)
	}

	startedAt, err := time.Parse(time.RFC3339, labels[LabelStartedAt])
	if err != nil {
		return nil, fmt.Errorf("invalid label %s: %w", LabelStartedAt, err)
	}

	return &RunLabels{
		RunID:     labels[LabelRunID],
		Profile:   labels[LabelProfile],
		Mode:      mode,
		ModelDir:  labels[LabelModelDir],
		StartedAt: startedAt,
	}, nil
}

// managedFilter is the label filter expression selecting svbrdf-run containers.
func managedFilter() string {
	return LabelManagedBy + "=" + ManagedByValue
}
