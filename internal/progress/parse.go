// Package progress follows the trainer's console output.
//
// The trainer reports its progress as plain text lines such as
// "Epoch 3, Batch 12, loss: 0.081234". Parse turns the known lines into
// events, a Tracker aggregates them into a model.Summary, and Bar draws a
// terminal progress bar over the epoch range.
package progress

import (
	"regexp"
	"strconv"
	"strings"
)

// EventKind identifies a recognised trainer output line.
type EventKind int

const (
	// EventRange is "Training from epoch {From} to {To}". To is exclusive.
	EventRange EventKind = iota + 1

	// EventTrainingSamples is "Training samples: {Count}."
	EventTrainingSamples

	// EventValidationSamples is "Validation samples: {Count}."
	EventValidationSamples

	// EventValidationSplit is "Using {Value} % of the data for validation".
	EventValidationSplit

	// EventBatchLoss is "Epoch {Epoch}, Batch {Batch}, loss: {Value}".
	EventBatchLoss

	// EventValidationLoss is "Epoch {Epoch}, validation loss: {Value}".
	EventValidationLoss

	// EventRenderer is "Using renderer '{Text}'".
	EventRenderer
)

var kindNames = map[EventKind]string{
	EventRange:             "range",
	EventTrainingSamples:   "training-samples",
	EventValidationSamples: "validation-samples",
	EventValidationSplit:   "validation-split",
	EventBatchLoss:         "batch-loss",
	EventValidationLoss:    "validation-loss",
	EventRenderer:          "renderer",
}

// String returns the kebab-case name of the kind.
func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is one parsed output line. Only the fields relevant to Kind are set.
type Event struct {
	Kind  EventKind
	Epoch int
	Batch int
	From  int
	To    int
	Count int
	Value float64
	Text  string
}

var (
	rangeRe          = regexp.MustCompile(`^Training from epoch (\d+) to (\d+)$`)
	trainingRe       = regexp.MustCompile(`^Training samples: (\d+)\.$`)
	validationRe     = regexp.MustCompile(`^Validation samples: (\d+)\.$`)
	splitRe          = regexp.MustCompile(`^Using ([0-9.]+) % of the data for validation$`)
	batchLossRe      = regexp.MustCompile(`^Epoch (\d+), Batch (\d+), loss: (\S+)$`)
	validationLossRe = regexp.MustCompile(`^Epoch (\d+), validation loss: (\S+)$`)
	rendererRe       = regexp.MustCompile(`^Using renderer '([^']*)'$`)
)

// Parse recognises a single trainer output line. Trailing whitespace and
// carriage returns are ignored. ok is false for any other line.
func Parse(line string) (ev Event, ok bool) {
	line = strings.TrimRight(line, " \t\r\n")

	if m := batchLossRe.FindStringSubmatch(line); m != nil {
		v, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			return Event{}, false
		}
		return Event{Kind: EventBatchLoss, Epoch: atoi(m[1]), Batch: atoi(m[2]), Value: v}, true
	}
	if m := validationLossRe.FindStringSubmatch(line); m != nil {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return Event{}, false
		}
		return Event{Kind: EventValidationLoss, Epoch: atoi(m[1]), Value: v}, true
	}
	if m := rangeRe.FindStringSubmatch(line); m != nil {
		return Event{Kind: EventRange, From: atoi(m[1]), To: atoi(m[2])}, true
	}
	if m := trainingRe.FindStringSubmatch(line); m != nil {
		return Event{Kind: EventTrainingSamples, Count: atoi(m[1])}, true
	}
	if m := validationRe.FindStringSubmatch(line); m != nil {
		return Event{Kind: EventValidationSamples, Count: atoi(m[1])}, true
	}
	if m := splitRe.FindStringSubmatch(line); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Event{}, false
		}
		return Event{Kind: EventValidationSplit, Value: v}, true
	}
	if m := rendererRe.FindStringSubmatch(line); m != nil {
		return Event{Kind: EventRenderer, Text: m[1]}, true
	}
	return Event{}, false
}

// atoi parses a string the regexps already restricted to digits.
func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
