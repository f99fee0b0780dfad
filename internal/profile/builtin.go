package profile

// builtinYAML holds the four stock launch configurations: two test runs
// on different datasets, a training run and a clean retraining run.
// The training settings live in defaults; test profiles do not inherit
// them.
const builtinYAML = `
defaults:
  image-count: 1
  model-type: multi
  scale-mode: crop
  image-size: 256
  used-image-count: 1
  epochs: 1000
  validation-frequency: 25
profiles:
  test-a:
    description: Evaluate model A on the synthetic test set
    mode: test
    input-dir: ./data/test
    model-dir: ./models/a
  test-b:
    description: Evaluate model B on the captured test set
    mode: test
    input-dir: ./data/test-captured
    image-count: 3
    model-dir: ./models/b
  train-a:
    description: Train model A, resuming from the last checkpoint
    mode: train
    input-dir: ./data/train
    model-dir: ./models/a
    save-frequency: 50
  retrain-b:
    description: Train model B from scratch, discarding old checkpoints
    mode: train
    input-dir: ./data/train
    image-count: 3
    used-image-count: 3
    model-dir: ./models/b
    save-frequency: 100
    retrain: true
`

// Builtin returns the stock profiles. They are used when no profile file
// exists, and relative directories in them resolve against the working
// directory.
func Builtin() *File {
	f, err := Decode([]byte(builtinYAML), FormatYAML)
	if err != nil {
		panic("profile: invalid builtin profiles: " + err.Error())
	}
	return f
}
