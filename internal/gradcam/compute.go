package gradcam

import (
	"errors"
	"fmt"

	"github.com/anime-shed/mri-gradcam-go/internal/heatmap"
	"github.com/anime-shed/mri-gradcam-go/internal/model"

	"gonum.org/v1/gonum/mat"
)

// ComputeGradCAM weights each channel of the target layer's activation
// by the spatial mean of its gradient, sums the channels and keeps only
// positive relevance. Every failure is returned, never raised.
func ComputeGradCAM(c model.Classifier, input *model.Tensor, layer string, classIndex int) (cam *mat.Dense, err error) {
	defer func() {
		if r := recover(); r != nil {
			cam, err = nil, fmt.Errorf("gradient computation panicked: %v", r)
		}
	}()

	src, ok := c.(model.GradientSource)
	if !ok {
		return nil, &model.UnresolvableLayerError{Layer: layer, Reason: "classifier does not expose gradients"}
	}
	act, err := src.ActivationGradients(input, layer, classIndex)
	if err != nil {
		return nil, err
	}
	if err := checkActivation(act, layer); err != nil {
		return nil, err
	}

	weights := make([]float64, act.Channels)
	cells := float64(act.Height * act.Width)
	for i, g := range act.Gradients {
		weights[i%act.Channels] += g / cells
	}

	cam = mat.NewDense(act.Height, act.Width, nil)
	for y := 0; y < act.Height; y++ {
		for x := 0; x < act.Width; x++ {
			base := (y*act.Width + x) * act.Channels
			var sum float64
			for k, w := range weights {
				sum += w * act.Values[base+k]
			}
			cam.Set(y, x, sum)
		}
	}
	return heatmap.ReLU(cam), nil
}

func checkActivation(act *model.Activation, layer string) error {
	if act == nil {
		return &model.EmptyGradientError{Layer: layer}
	}
	n := act.Height * act.Width * act.Channels
	if n == 0 || len(act.Gradients) == 0 {
		return &model.EmptyGradientError{Layer: layer, Height: act.Height, Width: act.Width}
	}
	if len(act.Values) != n || len(act.Gradients) != n {
		return &model.UnresolvableLayerError{Layer: layer, Reason: "activation and gradient shapes disagree"}
	}
	for _, g := range act.Gradients {
		if g != g {
			return &model.EmptyGradientError{Layer: layer, Height: act.Height, Width: act.Width}
		}
	}
	return nil
}

// IsExpected reports whether err is a failure the fallback ladder is
// designed to absorb
func IsExpected(err error) bool {
	return errors.Is(err, ErrNoTargetLayer) ||
		errors.Is(err, model.ErrLayerUnresolvable) ||
		errors.Is(err, model.ErrEmptyGradient)
}
