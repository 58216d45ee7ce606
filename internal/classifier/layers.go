package classifier

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const batchNormEps = 1e-5

// correlate slides w over x zero-padded by pad on both sides.
func correlate(x, w []float64, pad int) []float64 {
	padded := make([]float64, len(x)+2*pad)
	copy(padded[pad:], x)
	n := len(padded) - len(w) + 1
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	for t := range out {
		out[t] = floats.Dot(w, padded[t:t+len(w)])
	}
	return out
}

// avgPool averages non-overlapping runs of k, dropping any remainder.
func avgPool(x []float64, k int) []float64 {
	out := make([]float64, len(x)/k)
	for i := range out {
		out[i] = floats.Sum(x[i*k:(i+1)*k]) / float64(k)
	}
	return out
}

func elu(x []float64) {
	for i, v := range x {
		if v <= 0 {
			x[i] = math.Expm1(v)
		}
	}
}

// batchNorm is inference-mode batch normalisation folded into a per-channel
// affine map.
type batchNorm struct {
	scale, shift []float64
}

func loadBatchNorm(c *Checkpoint, prefix string, channels int) (batchNorm, error) {
	get := func(name string) ([]float64, error) {
		t, err := c.tensor(prefix+"."+name, channels)
		return t.Data, err
	}
	gamma, err := get("weight")
	if err != nil {
		return batchNorm{}, err
	}
	beta, err := get("bias")
	if err != nil {
		return batchNorm{}, err
	}
	mean, err := get("running_mean")
	if err != nil {
		return batchNorm{}, err
	}
	variance, err := get("running_var")
	if err != nil {
		return batchNorm{}, err
	}
	bn := batchNorm{scale: make([]float64, channels), shift: make([]float64, channels)}
	for i := range channels {
		if variance[i] < 0 {
			return batchNorm{}, fmt.Errorf("%w: %s.running_var[%d] is negative", ErrCheckpoint, prefix, i)
		}
		bn.scale[i] = gamma[i] / math.Sqrt(variance[i]+batchNormEps)
		bn.shift[i] = beta[i] - mean[i]*bn.scale[i]
	}
	return bn, nil
}

func (bn batchNorm) apply(ch int, x []float64) {
	floats.Scale(bn.scale[ch], x)
	floats.AddConst(bn.shift[ch], x)
}

// weightNorm recombines a weight-normalised parameter: each output row of v
// is rescaled to have norm g.
func weightNorm(g, v Tensor) ([]float64, error) {
	rows := v.Shape[0]
	if g.numel() != rows {
		return nil, fmt.Errorf("%w: weight norm magnitude has %d values for %d rows", ErrCheckpoint, g.numel(), rows)
	}
	width := len(v.Data) / rows
	out := make([]float64, len(v.Data))
	for r := range rows {
		row := v.Data[r*width : (r+1)*width]
		norm := floats.Norm(row, 2)
		if norm == 0 {
			return nil, fmt.Errorf("%w: weight norm direction row %d is zero", ErrCheckpoint, r)
		}
		floats.ScaleTo(out[r*width:(r+1)*width], g.Data[r]/norm, row)
	}
	return out, nil
}
