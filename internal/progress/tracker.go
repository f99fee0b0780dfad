package progress

import (
	"bytes"
	"io"
	"math"
	"sync"

	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// Listener is notified as a Tracker advances. Calls are made with the
// tracker's lock released, from the goroutine feeding the tracker.
type Listener interface {
	// OnRange is called when the trainer announces its epoch range.
	OnRange(from, to int)

	// OnBatch is called for every batch loss line.
	OnBatch(epoch, batch int, loss float64)

	// OnValidation is called for every validation loss line.
	OnValidation(epoch int, loss float64)
}

// Tracker aggregates trainer events into a summary. It is safe for
// concurrent use: output is fed from the log copier while the watcher
// records checkpoint writes.
type Tracker struct {
	mu        sync.Mutex
	s         model.Summary
	seenEpoch bool
	split     float64
	listener  Listener
}

// NewTracker creates a Tracker. listener may be nil.
func NewTracker(listener Listener) *Tracker {
	return &Tracker{listener: listener}
}

// Observe records one event.
func (t *Tracker) Observe(ev Event) {
	t.mu.Lock()
	switch ev.Kind {
	case EventRange:
		t.s.FirstEpoch = ev.From
		t.s.TargetEpoch = ev.To
		if !t.seenEpoch {
			t.s.LastEpoch = ev.From
		}
		t.seenEpoch = true
	case EventTrainingSamples:
		t.s.TrainingSamples = ev.Count
	case EventValidationSamples:
		t.s.ValidationSamples = ev.Count
	case EventValidationSplit:
		t.split = ev.Value
	case EventRenderer:
		t.s.Renderer = ev.Text
	case EventBatchLoss:
		t.epoch(ev.Epoch)
		t.s.Batches++
		t.s.LastLoss = ptr(ev.Value)
		if better(ev.Value, t.s.BestLoss) {
			t.s.BestLoss = ptr(ev.Value)
		}
	case EventValidationLoss:
		t.epoch(ev.Epoch)
		t.s.LastValLoss = ptr(ev.Value)
		if better(ev.Value, t.s.BestValLoss) {
			t.s.BestValLoss = ptr(ev.Value)
			t.s.BestValEpoch = ev.Epoch
		}
	}
	l := t.listener
	t.mu.Unlock()

	if l == nil {
		return
	}
	switch ev.Kind {
	case EventRange:
		l.OnRange(ev.From, ev.To)
	case EventBatchLoss:
		l.OnBatch(ev.Epoch, ev.Batch, ev.Value)
	case EventValidationLoss:
		l.OnValidation(ev.Epoch, ev.Value)
	}
}

// epoch advances the epoch bookkeeping. Must be called with mu held.
func (t *Tracker) epoch(e int) {
	if !t.seenEpoch {
		t.s.FirstEpoch = e
		t.seenEpoch = true
	}
	if e > t.s.LastEpoch {
		t.s.LastEpoch = e
	}
}

// ObserveLine parses line and records it if recognised.
func (t *Tracker) ObserveLine(line string) (Event, bool) {
	ev, ok := Parse(line)
	if ok {
		t.Observe(ev)
	}
	return ev, ok
}

// CheckpointWritten counts one checkpoint write.
func (t *Tracker) CheckpointWritten() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.CheckpointWrites++
}

// ValidationSplit returns the announced validation percentage, 0 if none.
func (t *Tracker) ValidationSplit() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.split
}

// Summary returns a copy of the aggregated summary.
func (t *Tracker) Summary() model.Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.s
	s.LastLoss = copyPtr(s.LastLoss)
	s.BestLoss = copyPtr(s.BestLoss)
	s.LastValLoss = copyPtr(s.LastValLoss)
	s.BestValLoss = copyPtr(s.BestValLoss)
	return s
}

// better reports whether v improves on best. NaN never does.
func better(v float64, best *float64) bool {
	if math.IsNaN(v) {
		return false
	}
	return best == nil || v < *best
}

func ptr(v float64) *float64 { return &v }

func copyPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return ptr(*p)
}

// LineWriter is an io.Writer that calls fn for every complete line
// written to it, without the trailing newline. It is not safe for
// concurrent writes; give each stream its own LineWriter.
type LineWriter struct {
	fn  func(line string)
	buf []byte
}

// NewLineWriter creates a LineWriter.
func NewLineWriter(fn func(line string)) *LineWriter {
	return &LineWriter{fn: fn}
}

// Write implements io.Writer.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.fn(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits a trailing line that was not terminated by a newline.
func (w *LineWriter) Flush() {
	if len(w.buf) > 0 {
		w.fn(string(w.buf))
		w.buf = nil
	}
}

// Tee returns a LineWriter that records every line in t and echoes it to
// out. When hideBatches is set, batch loss lines are recorded but not
// echoed, because a progress bar already shows them.
func Tee(t *Tracker, out io.Writer, hideBatches bool) *LineWriter {
	return NewLineWriter(func(line string) {
		ev, ok := t.ObserveLine(line)
		if hideBatches && ok && ev.Kind == EventBatchLoss {
			return
		}
		io.WriteString(out, line+"\n")
	})
}
