package classifier

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/neurobile/internal/command"
)

const (
	testElectrodes = 3
	testSamples    = 384
)

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func tensor(data []float64, shape ...int) Tensor {
	return Tensor{Shape: shape, Data: data}
}

func identityBatchNorm(state map[string]Tensor, prefix string, n int) {
	state[prefix+".weight"] = tensor(filled(n, 1), n)
	state[prefix+".bias"] = tensor(filled(n, 0), n)
	state[prefix+".running_mean"] = tensor(filled(n, 0), n)
	state[prefix+".running_var"] = tensor(filled(n, 1), n)
	state[prefix+".num_batches_tracked"] = tensor([]float64{100})
}

// passThroughCheckpoint builds a network that copies electrode 0 into the
// even spatial filters and electrode 1 into the odd ones, then scores class
// Left on the even features and Right on the odd.
func passThroughCheckpoint(samples int, weightNormed bool) *Checkpoint {
	state := map[string]Tensor{}

	conv1 := make([]float64, temporalFilters*temporalKernel)
	for f := range temporalFilters {
		conv1[f*temporalKernel+temporalKernel/2] = 1
	}
	state["conv1.weight"] = tensor(conv1, temporalFilters, 1, 1, temporalKernel)
	identityBatchNorm(state, "batch_norm1", temporalFilters)

	conv2 := make([]float64, spatialFilters*testElectrodes)
	for o := range spatialFilters {
		conv2[o*testElectrodes+o%2] = 2
	}
	if weightNormed {
		dir := make([]float64, len(conv2))
		for i, v := range conv2 {
			dir[i] = v * 7
		}
		state["conv2.parametrizations.weight.original0"] = tensor(filled(spatialFilters, 2), spatialFilters, 1, 1, 1)
		state["conv2.parametrizations.weight.original1"] = tensor(dir, spatialFilters, 1, testElectrodes, 1)
	} else {
		state["conv2.weight"] = tensor(conv2, spatialFilters, 1, testElectrodes, 1)
	}
	identityBatchNorm(state, "batch_norm2", spatialFilters)

	conv3 := make([]float64, spatialFilters*separableKernel)
	for o := range spatialFilters {
		conv3[o*separableKernel+separableKernel/2] = 1
	}
	state["conv3.weight"] = tensor(conv3, spatialFilters, 1, 1, separableKernel)

	conv4 := make([]float64, spatialFilters*spatialFilters)
	for o := range spatialFilters {
		conv4[o*spatialFilters+o] = 1
	}
	state["conv4.weight"] = tensor(conv4, spatialFilters, spatialFilters, 1, 1)
	identityBatchNorm(state, "batch_norm3", spatialFilters)

	features := FeatureLength(samples)
	per := features / spatialFilters
	dense := make([]float64, classes*features)
	for o := range spatialFilters {
		for i := range per {
			dense[(o%2)*features+o*per+i] = 1
		}
	}
	state["dense.weight"] = tensor(dense, classes, features)
	state["dense.bias"] = tensor(filled(classes, 0), classes)

	return &Checkpoint{EpochsRun: 42, ModelState: state}
}

func writeCheckpoint(t *testing.T, c *Checkpoint) string {
	t.Helper()
	data, err := json.Marshal(c)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func window(active int) [][]float64 {
	w := make([][]float64, testElectrodes)
	for e := range w {
		w[e] = filled(testSamples, 0)
	}
	w[active] = filled(testSamples, 1)
	return w
}

func TestFeatureLength(t *testing.T) {
	assert.Equal(t, 192, FeatureLength(384))
	assert.Equal(t, 128, FeatureLength(256))
}

func TestPredict(t *testing.T) {
	a, err := Load(writeCheckpoint(t, passThroughCheckpoint(testSamples, false)))
	require.NoError(t, err)
	assert.Equal(t, 42, a.EpochsRun())
	assert.Equal(t, testElectrodes, a.Model().EEGChannels())

	tests := []struct {
		name   string
		active int
		want   command.Command
	}{
		{"electrode 0 active", 0, command.Left},
		{"electrode 1 active", 1, command.Right},
		{"electrode 2 ignored ties left", 2, command.Left},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Predict(window(tt.active))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestForwardDeterministic(t *testing.T) {
	m, err := NewModel(passThroughCheckpoint(testSamples, false))
	require.NoError(t, err)

	w := window(0)
	l1, p1, err := m.Forward(w)
	require.NoError(t, err)
	l2, p2, err := m.Forward(w)
	require.NoError(t, err)
	assert.Equal(t, l1, l2)
	assert.Equal(t, p1, p2)
	assert.InDelta(t, 1.0, p1[0]+p1[1], 1e-12)
	assert.Greater(t, p1[ClassLeft], p1[ClassRight])
	assert.Equal(t, filled(testSamples, 1), w[0], "input not modified")
}

func TestWeightNormMatchesPlainWeight(t *testing.T) {
	plain, err := NewModel(passThroughCheckpoint(testSamples, false))
	require.NoError(t, err)
	normed, err := NewModel(passThroughCheckpoint(testSamples, true))
	require.NoError(t, err)

	want, _, err := plain.Forward(window(1))
	require.NoError(t, err)
	got, _, err := normed.Forward(window(1))
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-9)
}

func TestDenseMaxNorm(t *testing.T) {
	m, err := NewModel(passThroughCheckpoint(testSamples, false))
	require.NoError(t, err)
	for i := range classes {
		row := m.dense.RawRowView(i)
		var sum float64
		for _, v := range row {
			sum += v * v
		}
		assert.InDelta(t, denseMaxNorm*denseMaxNorm, sum, 1e-6)
	}
}

func TestShortWindowNeedsMatchingCheckpoint(t *testing.T) {
	m, err := NewModel(passThroughCheckpoint(256, false))
	require.NoError(t, err)

	w := make([][]float64, testElectrodes)
	for e := range w {
		w[e] = filled(256, 0)
	}
	_, _, err = m.Forward(w)
	assert.NoError(t, err)

	_, _, err = m.Forward(window(0))
	assert.ErrorIs(t, err, ErrInputShape)
}

func TestForwardRejectsBadShape(t *testing.T) {
	m, err := NewModel(passThroughCheckpoint(testSamples, false))
	require.NoError(t, err)

	tests := []struct {
		name   string
		window [][]float64
	}{
		{"too few electrodes", [][]float64{filled(testSamples, 0)}},
		{"ragged", [][]float64{filled(testSamples, 0), filled(testSamples, 0), filled(10, 0)}},
		{"wrong length", [][]float64{filled(100, 0), filled(100, 0), filled(100, 0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := m.Forward(tt.window)
			assert.ErrorIs(t, err, ErrInputShape)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file names the path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nope.json")
		_, err := Load(path)
		require.ErrorIs(t, err, ErrCheckpoint)
		assert.Contains(t, err.Error(), path)
	})

	t.Run("corrupt json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
		_, err := Load(path)
		require.ErrorIs(t, err, ErrCheckpoint)
		assert.Contains(t, err.Error(), path)
	})

	t.Run("missing parameter", func(t *testing.T) {
		c := passThroughCheckpoint(testSamples, false)
		delete(c.ModelState, "conv3.weight")
		path := writeCheckpoint(t, c)
		_, err := Load(path)
		require.ErrorIs(t, err, ErrCheckpoint)
		assert.Contains(t, err.Error(), "conv3.weight")
		assert.Contains(t, err.Error(), path)
	})

	t.Run("wrong shape", func(t *testing.T) {
		c := passThroughCheckpoint(testSamples, false)
		c.ModelState["conv1.weight"] = tensor(filled(8*32, 0), 8, 1, 1, 32)
		_, err := Load(writeCheckpoint(t, c))
		assert.ErrorIs(t, err, ErrCheckpoint)
	})

	t.Run("data length disagrees with shape", func(t *testing.T) {
		c := passThroughCheckpoint(testSamples, false)
		c.ModelState["dense.bias"] = tensor([]float64{0}, classes)
		_, err := Load(writeCheckpoint(t, c))
		assert.ErrorIs(t, err, ErrCheckpoint)
	})
}
