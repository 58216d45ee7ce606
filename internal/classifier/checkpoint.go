// Package classifier runs the motor-imagery network on a filtered window and
// maps its output to a movement command.
package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
)

// ErrCheckpoint wraps every problem with the checkpoint file or its contents.
var ErrCheckpoint = errors.New("invalid checkpoint")

// Tensor is a dense row-major array exported from the training state dict.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

func (t Tensor) numel() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Checkpoint is the JSON export of a training checkpoint: the state dict
// keyed by parameter name plus the number of epochs trained.
type Checkpoint struct {
	EpochsRun  int               `json:"EPOCHS_RUN"`
	ModelState map[string]Tensor `json:"MODEL_STATE"`
}

// ReadCheckpoint loads and decodes a checkpoint file. Errors carry the path.
func ReadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCheckpoint, path, err)
	}
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCheckpoint, path, err)
	}
	if len(c.ModelState) == 0 {
		return nil, fmt.Errorf("%w %s: empty MODEL_STATE", ErrCheckpoint, path)
	}
	return &c, nil
}

// tensor returns the named parameter, checking its shape. A negative entry in
// shape matches any size.
func (c *Checkpoint) tensor(name string, shape ...int) (Tensor, error) {
	t, ok := c.ModelState[name]
	if !ok {
		return Tensor{}, fmt.Errorf("%w: missing %s", ErrCheckpoint, name)
	}
	if len(t.Shape) != len(shape) {
		return Tensor{}, fmt.Errorf("%w: %s has shape %v, want %v", ErrCheckpoint, name, t.Shape, shape)
	}
	for i, d := range shape {
		if d >= 0 && t.Shape[i] != d {
			return Tensor{}, fmt.Errorf("%w: %s has shape %v, want %v", ErrCheckpoint, name, t.Shape, shape)
		}
	}
	if t.numel() != len(t.Data) {
		return Tensor{}, fmt.Errorf("%w: %s has %d values for shape %v", ErrCheckpoint, name, len(t.Data), t.Shape)
	}
	return Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}, nil
}
