package model

import (
	"errors"
	"fmt"
)

var (
	// ErrLayerUnresolvable means the classifier cannot expose the named
	// layer's activations and gradients together
	ErrLayerUnresolvable = errors.New("target layer cannot be resolved")
	// ErrEmptyGradient means the backward pass produced no usable values
	ErrEmptyGradient = errors.New("gradient is empty")
)

// InputContract is the input a classifier expects
type InputContract struct {
	Height   int `json:"height"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

// OutputKind distinguishes a single sigmoid output from a softmax vector
type OutputKind int

const (
	OutputSigmoid OutputKind = iota
	OutputSoftmax
)

// OutputContract is the output a classifier produces
type OutputContract struct {
	Kind    OutputKind `json:"-"`
	Classes int        `json:"classes"`
}

// Classifier is a loaded, read-only image classifier
type Classifier interface {
	Name() string
	Layers() []LayerInfo
	Input() InputContract
	Output() OutputContract
	Predict(input *Tensor) ([]float64, error)
}

// Activation holds one layer's HWC output and the gradient of a class
// score with respect to it
type Activation struct {
	Height    int
	Width     int
	Channels  int
	Values    []float64
	Gradients []float64
}

// GradientSource is implemented by classifiers that can back-propagate
// a class score to a layer output
type GradientSource interface {
	ActivationGradients(input *Tensor, layer string, classIndex int) (*Activation, error)
}

// EmptyGradientError carries the spatial size of the layer whose
// gradient came back empty
type EmptyGradientError struct {
	Layer  string
	Height int
	Width  int
}

func (e *EmptyGradientError) Error() string {
	return fmt.Sprintf("gradient for layer %q is empty", e.Layer)
}

func (e *EmptyGradientError) Unwrap() error {
	return ErrEmptyGradient
}

// UnresolvableLayerError wraps ErrLayerUnresolvable with the layer name
type UnresolvableLayerError struct {
	Layer  string
	Reason string
}

func (e *UnresolvableLayerError) Error() string {
	return fmt.Sprintf("layer %q cannot be resolved: %s", e.Layer, e.Reason)
}

func (e *UnresolvableLayerError) Unwrap() error {
	return ErrLayerUnresolvable
}

// Argmax returns the index of the largest score, the first on ties and
// 0 for no scores
func Argmax(scores []float64) int {
	best := 0
	for i, v := range scores {
		if v > scores[best] {
			best = i
		}
	}
	return best
}
