package classifier

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrInputShape is returned when a window does not match the network input.
var ErrInputShape = errors.New("input shape mismatch")

// Network dimensions fixed by the architecture. Only the EEG channel count
// and the dense input width come from the checkpoint.
const (
	temporalFilters = 8
	temporalKernel  = 64
	depthMultiplier = 2
	spatialFilters  = temporalFilters * depthMultiplier
	separableKernel = 16
	pool1           = 4
	pool2           = 8
	classes         = 2
	denseMaxNorm    = 0.25
)

// Model is a compact convolutional EEG network: per-channel temporal
// filters, a depthwise spatial filter across electrodes, a separable
// convolution and a max-norm dense layer. Inference only.
type Model struct {
	eegChannels int

	conv1 []float64 // [temporalFilters][temporalKernel]
	bn1   batchNorm
	conv2 []float64 // [spatialFilters][eegChannels]
	bn2   batchNorm
	conv3 []float64 // [spatialFilters][separableKernel]
	conv4 *mat.Dense
	bn3   batchNorm
	dense *mat.Dense
	bias  []float64
}

// NewModel builds a model from checkpoint parameters. The spatial layer may
// be stored as a plain weight or as a weight-norm magnitude/direction pair.
func NewModel(c *Checkpoint) (*Model, error) {
	m := &Model{}

	conv1, err := c.tensor("conv1.weight", temporalFilters, 1, 1, temporalKernel)
	if err != nil {
		return nil, err
	}
	m.conv1 = conv1.Data
	if m.bn1, err = loadBatchNorm(c, "batch_norm1", temporalFilters); err != nil {
		return nil, err
	}

	if m.conv2, m.eegChannels, err = loadSpatial(c); err != nil {
		return nil, err
	}
	if m.bn2, err = loadBatchNorm(c, "batch_norm2", spatialFilters); err != nil {
		return nil, err
	}

	conv3, err := c.tensor("conv3.weight", spatialFilters, 1, 1, separableKernel)
	if err != nil {
		return nil, err
	}
	m.conv3 = conv3.Data
	conv4, err := c.tensor("conv4.weight", spatialFilters, spatialFilters, 1, 1)
	if err != nil {
		return nil, err
	}
	m.conv4 = mat.NewDense(spatialFilters, spatialFilters, conv4.Data)
	if m.bn3, err = loadBatchNorm(c, "batch_norm3", spatialFilters); err != nil {
		return nil, err
	}

	dense, err := c.tensor("dense.weight", classes, -1)
	if err != nil {
		return nil, err
	}
	if dense.Shape[1]%spatialFilters != 0 {
		return nil, fmt.Errorf("%w: dense input %d is not a multiple of %d", ErrCheckpoint, dense.Shape[1], spatialFilters)
	}
	m.dense = mat.NewDense(classes, dense.Shape[1], dense.Data)
	maxNormRows(m.dense, denseMaxNorm)
	bias, err := c.tensor("dense.bias", classes)
	if err != nil {
		return nil, err
	}
	m.bias = bias.Data

	return m, nil
}

func loadSpatial(c *Checkpoint) ([]float64, int, error) {
	if _, ok := c.ModelState["conv2.weight"]; ok {
		w, err := c.tensor("conv2.weight", spatialFilters, 1, -1, 1)
		if err != nil {
			return nil, 0, err
		}
		return w.Data, w.Shape[2], nil
	}
	g, err := c.tensor("conv2.parametrizations.weight.original0", spatialFilters, 1, 1, 1)
	if err != nil {
		return nil, 0, err
	}
	v, err := c.tensor("conv2.parametrizations.weight.original1", spatialFilters, 1, -1, 1)
	if err != nil {
		return nil, 0, err
	}
	w, err := weightNorm(g, v)
	if err != nil {
		return nil, 0, err
	}
	return w, v.Shape[2], nil
}

// maxNormRows rescales each row to norm/(|row|+1e-6).
func maxNormRows(d *mat.Dense, norm float64) {
	r, _ := d.Dims()
	for i := range r {
		row := d.RawRowView(i)
		floats.Scale(norm/(floats.Norm(row, 2)+1e-6), row)
	}
}

// EEGChannels is the number of electrodes the network expects.
func (m *Model) EEGChannels() int { return m.eegChannels }

// FeatureLength is the dense layer input width the network produces for a
// window of n samples.
func FeatureLength(n int) int {
	w := (n+1)/pool1 + 1
	return spatialFilters * (w / pool2)
}

// Forward returns class logits and softmax probabilities for one window of
// shape [EEGChannels][n].
func (m *Model) Forward(window [][]float64) (logits, probs []float64, err error) {
	if len(window) != m.eegChannels {
		return nil, nil, fmt.Errorf("%w: %d channels, want %d", ErrInputShape, len(window), m.eegChannels)
	}
	n := len(window[0])
	for i, row := range window {
		if len(row) != n {
			return nil, nil, fmt.Errorf("%w: channel %d has %d samples, want %d", ErrInputShape, i, len(row), n)
		}
	}
	_, denseIn := m.dense.Dims()
	if got := FeatureLength(n); got != denseIn {
		return nil, nil, fmt.Errorf("%w: %d samples give %d features, want %d", ErrInputShape, n, got, denseIn)
	}

	// temporal filters per electrode: [filter][electrode][n+1]
	temporal := make([][][]float64, temporalFilters)
	for f := range temporalFilters {
		kernel := m.conv1[f*temporalKernel : (f+1)*temporalKernel]
		temporal[f] = make([][]float64, m.eegChannels)
		for e, row := range window {
			out := correlate(row, kernel, temporalKernel/2)
			m.bn1.apply(f, out)
			temporal[f][e] = out
		}
	}

	// depthwise spatial filter collapses electrodes: [spatialFilters][...]
	spatial := make([][]float64, spatialFilters)
	for o := range spatialFilters {
		in := temporal[o/depthMultiplier]
		out := make([]float64, len(in[0]))
		for e := range m.eegChannels {
			floats.AddScaled(out, m.conv2[o*m.eegChannels+e], in[e])
		}
		m.bn2.apply(o, out)
		elu(out)
		spatial[o] = correlate(avgPool(out, pool1), m.conv3[o*separableKernel:(o+1)*separableKernel], separableKernel/2)
	}

	// pointwise mix across filters
	width := len(spatial[0])
	stacked := mat.NewDense(spatialFilters, width, nil)
	for o, row := range spatial {
		stacked.SetRow(o, row)
	}
	var mixed mat.Dense
	mixed.Mul(m.conv4, stacked)

	features := make([]float64, 0, denseIn)
	for o := range spatialFilters {
		row := mixed.RawRowView(o)
		m.bn3.apply(o, row)
		elu(row)
		features = append(features, avgPool(row, pool2)...)
	}

	var out mat.VecDense
	out.MulVec(m.dense, mat.NewVecDense(len(features), features))
	logits = make([]float64, classes)
	for i := range logits {
		logits[i] = out.AtVec(i) + m.bias[i]
	}
	probs = make([]float64, classes)
	lse := floats.LogSumExp(logits)
	for i, l := range logits {
		probs[i] = math.Exp(l - lse)
	}
	return logits, probs, nil
}
