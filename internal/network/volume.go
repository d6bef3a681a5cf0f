package network

import (
	"fmt"
	"math"
)

// Volume is an unbatched activation: rank 3 (height, width, channels)
// or rank 1 (features)
type Volume struct {
	Shape []int
	Data  []float64
}

func newVolume(shape ...int) *Volume {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Volume{Shape: append([]int(nil), shape...), Data: make([]float64, n)}
}

func (v *Volume) spatial() bool {
	return len(v.Shape) == 3
}

func (v *Volume) dims() (h, w, c int) {
	return v.Shape[0], v.Shape[1], v.Shape[2]
}

func (v *Volume) idx(y, x, c int) int {
	return (y*v.Shape[1]+x)*v.Shape[2] + c
}

func (v *Volume) hasNaN() bool {
	for _, x := range v.Data {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return true
		}
	}
	return false
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func requireSpatial(layer string, shape []int) error {
	if len(shape) != 3 {
		return fmt.Errorf("layer %s expects a rank-3 input, got shape %v", layer, shape)
	}
	return nil
}

func withBatch(shape []int) []int {
	return append([]int{1}, shape...)
}
