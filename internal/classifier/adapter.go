package classifier

import (
	"fmt"

	"github.com/banshee-data/neurobile/internal/command"
	"github.com/banshee-data/neurobile/internal/monitoring"
)

// Class indices in the network output.
const (
	ClassLeft  = 0
	ClassRight = 1
)

// Predictor maps a filtered window to a movement command.
type Predictor interface {
	Predict(window [][]float64) (command.Command, error)
}

// Adapter wraps a loaded Model as a Predictor.
type Adapter struct {
	model     *Model
	epochsRun int
	path      string
}

// Load reads the checkpoint at path and builds the network. Any failure is
// reported with the path; callers treat it as fatal.
func Load(path string) (*Adapter, error) {
	c, err := ReadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	m, err := NewModel(c)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	monitoring.Logf("[classifier] loaded %s at epoch %d (%d electrodes)", path, c.EpochsRun, m.EEGChannels())
	return &Adapter{model: m, epochsRun: c.EpochsRun, path: path}, nil
}

// EpochsRun is the number of training epochs recorded in the checkpoint.
func (a *Adapter) EpochsRun() int { return a.epochsRun }

// Model returns the underlying network.
func (a *Adapter) Model() *Model { return a.model }

// Predict classifies window and returns Left or Right. Ties go to Left.
func (a *Adapter) Predict(window [][]float64) (command.Command, error) {
	logits, probs, err := a.model.Forward(window)
	if err != nil {
		return command.None, err
	}
	monitoring.Debugf("[classifier] logits=%v probs=%v", logits, probs)
	if probs[ClassRight] > probs[ClassLeft] {
		return command.Right, nil
	}
	return command.Left, nil
}
