// Package heatmap turns raw class-relevance maps into masked, colorized
// overlays.
package heatmap

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// Epsilon guards the min-max denominator for constant maps
	Epsilon = 1e-10
	// Cutoff is the normalized relevance below which heat is dropped
	Cutoff = 0.3
	// MaskIntensity is the grayscale level above which a pixel is tissue
	MaskIntensity = 15
	// BlurKernel is the Gaussian kernel size applied after resizing
	BlurKernel = 9
	// MorphKernel is the structuring element size for mask cleanup
	MorphKernel = 5
)

// Normalize rescales m against its own min and max into [0,1]. NaN and
// infinite cells are treated as zero. A constant map becomes all zeros.
func Normalize(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := finite(m.At(i, j))
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	den := hi - lo + Epsilon
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, (finite(m.At(i, j))-lo)/den)
		}
	}
	return out
}

// Threshold zeroes every cell strictly below cutoff
func Threshold(m *mat.Dense, cutoff float64) *mat.Dense {
	out := mat.DenseCopyOf(m)
	out.Apply(func(_, _ int, v float64) float64 {
		if v < cutoff {
			return 0
		}
		return v
	}, out)
	return out
}

// ReLU clips negative cells to zero in place
func ReLU(m *mat.Dense) *mat.Dense {
	m.Apply(func(_, _ int, v float64) float64 {
		return math.Max(v, 0)
	}, m)
	return m
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
