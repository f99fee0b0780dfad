package progress

import (
	"bytes"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line string
		want Event
		ok   bool
	}{
		{"Training from epoch 0 to 1000", Event{Kind: EventRange, From: 0, To: 1000}, true},
		{"Training samples: 198.", Event{Kind: EventTrainingSamples, Count: 198}, true},
		{"Validation samples: 2.", Event{Kind: EventValidationSamples, Count: 2}, true},
		{"Using 1.00 % of the data for validation", Event{Kind: EventValidationSplit, Value: 1}, true},
		{"Epoch 3, Batch 12, loss: 0.081234", Event{Kind: EventBatchLoss, Epoch: 3, Batch: 12, Value: 0.081234}, true},
		{"Epoch 25, validation loss: 0.5\r", Event{Kind: EventValidationLoss, Epoch: 25, Value: 0.5}, true},
		{"Using renderer 'LocalRenderer'", Event{Kind: EventRenderer, Text: "LocalRenderer"}, true},
		{"Epoch 3, Batch 12, loss: tensor(0.1)", Event{}, false},
		{"Warning: Material mixing is only supported for datasets without input images.", Event{}, false},
		{"", Event{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := Parse(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_NaNLoss(t *testing.T) {
	ev, ok := Parse("Epoch 1, Batch 0, loss: nan")
	require.True(t, ok)
	assert.True(t, math.IsNaN(ev.Value))
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "batch-loss", EventBatchLoss.String())
	assert.Equal(t, "unknown", EventKind(0).String())
}

type recorder struct {
	mu     sync.Mutex
	ranges [][2]int
	epochs []int
	vals   []int
}

func (r *recorder) OnRange(from, to int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ranges = append(r.ranges, [2]int{from, to})
}

func (r *recorder) OnBatch(epoch, _ int, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epochs = append(r.epochs, epoch)
}

func (r *recorder) OnValidation(epoch int, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vals = append(r.vals, epoch)
}

func TestTracker_Summary(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec)

	lines := []string{
		"Using 1.00 % of the data for validation",
		"Training samples: 198.",
		"Validation samples: 2.",
		"Using renderer 'LocalRenderer'",
		"Training from epoch 5 to 8",
		"Epoch 5, Batch 0, loss: 0.4",
		"Epoch 5, Batch 1, loss: 0.2",
		"Epoch 6, Batch 0, loss: nan",
		"Epoch 6, validation loss: 0.3",
		"Epoch 7, Batch 0, loss: 0.25",
		"Epoch 7, validation loss: 0.35",
		"some unrelated framework output",
	}
	for _, l := range lines {
		tr.ObserveLine(l)
	}
	tr.CheckpointWritten()
	tr.CheckpointWritten()

	s := tr.Summary()
	assert.Equal(t, 5, s.FirstEpoch)
	assert.Equal(t, 7, s.LastEpoch)
	assert.Equal(t, 8, s.TargetEpoch)
	assert.Equal(t, 4, s.Batches)
	assert.Equal(t, 198, s.TrainingSamples)
	assert.Equal(t, 2, s.ValidationSamples)
	assert.Equal(t, "LocalRenderer", s.Renderer)
	assert.Equal(t, 2, s.CheckpointWrites)
	require.NotNil(t, s.BestLoss)
	assert.InDelta(t, 0.2, *s.BestLoss, 1e-9)
	require.NotNil(t, s.LastLoss)
	assert.InDelta(t, 0.25, *s.LastLoss, 1e-9)
	require.NotNil(t, s.BestValLoss)
	assert.InDelta(t, 0.3, *s.BestValLoss, 1e-9)
	assert.Equal(t, 6, s.BestValEpoch)
	assert.InDelta(t, 1.0, tr.ValidationSplit(), 1e-9)

	assert.Equal(t, [][2]int{{5, 8}}, rec.ranges)
	assert.Equal(t, []int{5, 5, 6, 7}, rec.epochs)
	assert.Equal(t, []int{6, 7}, rec.vals)
}

func TestTracker_SummaryIsCopy(t *testing.T) {
	tr := NewTracker(nil)
	tr.ObserveLine("Epoch 0, Batch 0, loss: 1.5")

	s := tr.Summary()
	*s.LastLoss = 99
	assert.InDelta(t, 1.5, *tr.Summary().LastLoss, 1e-9)
}

func TestTracker_Empty(t *testing.T) {
	s := NewTracker(nil).Summary()
	assert.Nil(t, s.LastLoss)
	assert.Nil(t, s.BestValLoss)
	assert.Zero(t, s.Batches)
}

func TestLineWriter(t *testing.T) {
	var got []string
	w := NewLineWriter(func(l string) { got = append(got, l) })

	_, err := w.Write([]byte("first\nsec"))
	require.NoError(t, err)
	_, err = w.Write([]byte("ond\n\nthird"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", ""}, got)

	w.Flush()
	assert.Equal(t, []string{"first", "second", "", "third"}, got)
	w.Flush()
	assert.Len(t, got, 4)
}

func TestTee(t *testing.T) {
	input := "Training from epoch 0 to 2\nEpoch 0, Batch 0, loss: 0.5\nhello\n"

	tests := []struct {
		name        string
		hideBatches bool
		want        string
	}{
		{"echo all", false, input},
		{"hide batches", true, "Training from epoch 0 to 2\nhello\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			tr := NewTracker(nil)
			w := Tee(tr, &out, tt.hideBatches)
			_, err := w.Write([]byte(input))
			require.NoError(t, err)
			w.Flush()

			assert.Equal(t, tt.want, out.String())
			assert.Equal(t, 1, tr.Summary().Batches)
		})
	}
}

func TestBar(t *testing.T) {
	var out bytes.Buffer
	b := NewBar(&out, "train-a")

	// Events before the range are ignored.
	b.OnBatch(0, 0, 1)
	b.Finish()
	assert.Empty(t, out.String())

	tr := NewTracker(b)
	tr.ObserveLine("Training from epoch 0 to 3")
	tr.ObserveLine("Epoch 0, Batch 0, loss: 0.5")
	tr.ObserveLine("Epoch 1, Batch 0, loss: 0.4")
	tr.ObserveLine("Epoch 1, validation loss: 0.45")
	b.Finish()

	assert.Contains(t, out.String(), "train-a")
	assert.NotPanics(t, b.Finish)
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(&bytes.Buffer{}))
}
