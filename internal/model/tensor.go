package model

import "fmt"

// Tensor is a single-sample HWC float tensor. Values fed to a
// classifier are normalized to [0,1].
type Tensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float64
}

// NewTensor allocates a zeroed tensor
func NewTensor(height, width, channels int) *Tensor {
	return &Tensor{
		Height:   height,
		Width:    width,
		Channels: channels,
		Data:     make([]float64, height*width*channels),
	}
}

func (t *Tensor) index(y, x, c int) int {
	return (y*t.Width+x)*t.Channels + c
}

// At returns the value at row y, column x, channel c
func (t *Tensor) At(y, x, c int) float64 {
	return t.Data[t.index(y, x, c)]
}

// Set stores v at row y, column x, channel c
func (t *Tensor) Set(y, x, c int, v float64) {
	t.Data[t.index(y, x, c)] = v
}

// Shape returns the tensor shape with a leading batch dimension of 1
func (t *Tensor) Shape() []int {
	return []int{1, t.Height, t.Width, t.Channels}
}

// Validate checks the backing slice matches the declared shape
func (t *Tensor) Validate() error {
	if t == nil {
		return fmt.Errorf("tensor is nil")
	}
	if t.Height <= 0 || t.Width <= 0 || t.Channels <= 0 {
		return fmt.Errorf("invalid tensor shape %dx%dx%d", t.Height, t.Width, t.Channels)
	}
	if len(t.Data) != t.Height*t.Width*t.Channels {
		return fmt.Errorf("tensor data length %d does not match shape %dx%dx%d",
			len(t.Data), t.Height, t.Width, t.Channels)
	}
	return nil
}

// Clone returns a deep copy
func (t *Tensor) Clone() *Tensor {
	c := *t
	c.Data = append([]float64(nil), t.Data...)
	return &c
}
