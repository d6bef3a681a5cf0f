// Package network is a small pure-Go CNN runtime that can both predict
// and back-propagate a class score to any top-level layer output.
package network

import (
	"fmt"

	"github.com/anime-shed/mri-gradcam-go/internal/model"
)

// Network is an immutable feed-forward classifier. It is safe for
// concurrent use because every call allocates its own activations.
type Network struct {
	name   string
	input  model.InputContract
	output model.OutputContract
	layers []Layer
	infos  []model.LayerInfo
}

var (
	_ model.Classifier     = (*Network)(nil)
	_ model.GradientSource = (*Network)(nil)
)

// New validates the layer chain against the input contract
func New(name string, input model.InputContract, layers ...Layer) (*Network, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("network %s: no layers", name)
	}
	shape := []int{input.Height, input.Width, input.Channels}
	infos := make([]model.LayerInfo, 0, len(layers))
	seen := make(map[string]bool, len(layers))
	for _, l := range layers {
		if seen[l.Name()] {
			return nil, fmt.Errorf("network %s: duplicate layer name %q", name, l.Name())
		}
		seen[l.Name()] = true
		info, next, err := describe(l, shape)
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", name, err)
		}
		infos = append(infos, info)
		shape = next
	}
	if len(shape) != 1 {
		return nil, fmt.Errorf("network %s: final output must be a vector, got %v", name, shape)
	}

	out := model.OutputContract{Kind: model.OutputSoftmax, Classes: shape[0]}
	if d, ok := layers[len(layers)-1].(*Dense); ok && d.activation == ActivationSigmoid && shape[0] == 1 {
		out.Kind = model.OutputSigmoid
	}
	return &Network{name: name, input: input, output: out, layers: layers, infos: infos}, nil
}

func (n *Network) Name() string                 { return n.name }
func (n *Network) Layers() []model.LayerInfo    { return n.infos }
func (n *Network) Input() model.InputContract   { return n.input }
func (n *Network) Output() model.OutputContract { return n.output }

func (n *Network) toVolume(t *model.Tensor) (*Volume, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.Height != n.input.Height || t.Width != n.input.Width || t.Channels != n.input.Channels {
		return nil, fmt.Errorf("network %s: expected input %dx%dx%d, got %dx%dx%d", n.name,
			n.input.Height, n.input.Width, n.input.Channels, t.Height, t.Width, t.Channels)
	}
	return &Volume{Shape: []int{t.Height, t.Width, t.Channels}, Data: t.Data}, nil
}

func (n *Network) forward(in *Volume) ([]*Volume, error) {
	outs := make([]*Volume, 0, len(n.layers)+1)
	outs = append(outs, in)
	cur := in
	for _, l := range n.layers {
		next, err := l.Forward(cur)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", l.Name(), err)
		}
		outs = append(outs, next)
		cur = next
	}
	return outs, nil
}

// Predict returns the sigmoid score or the softmax vector
func (n *Network) Predict(input *model.Tensor) ([]float64, error) {
	in, err := n.toVolume(input)
	if err != nil {
		return nil, err
	}
	outs, err := n.forward(in)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), outs[len(outs)-1].Data...), nil
}

// ActivationGradients runs a forward pass and back-propagates the score
// of classIndex to the output of the named top-level layer. Layers
// inside a nested sub-network are not exposed by the outer network and
// cannot be targeted.
func (n *Network) ActivationGradients(input *model.Tensor, layer string, classIndex int) (*model.Activation, error) {
	target := -1
	for i, l := range n.layers {
		if l.Name() == layer {
			target = i
			break
		}
	}
	if target < 0 {
		reason := "no such layer"
		if n.isInnerLayer(layer) {
			reason = "layer is internal to a nested sub-network"
		}
		return nil, &model.UnresolvableLayerError{Layer: layer, Reason: reason}
	}
	if !n.infos[target].HasSpatialOutput() {
		return nil, &model.UnresolvableLayerError{Layer: layer, Reason: "output has no spatial structure"}
	}
	if classIndex < 0 || classIndex >= n.output.Classes {
		return nil, fmt.Errorf("class index %d out of range for %d outputs", classIndex, n.output.Classes)
	}

	in, err := n.toVolume(input)
	if err != nil {
		return nil, err
	}
	outs, err := n.forward(in)
	if err != nil {
		return nil, err
	}

	activation := outs[target+1]
	h, w, c := activation.dims()
	empty := &model.EmptyGradientError{Layer: layer, Height: h, Width: w}

	grad := newVolume(outs[len(outs)-1].Shape...)
	grad.Data[classIndex] = 1
	for i := len(n.layers) - 1; i > target; i-- {
		grad, err = n.layers[i].Backward(outs[i], outs[i+1], grad)
		if err != nil {
			return nil, fmt.Errorf("backward through %s: %w", n.layers[i].Name(), err)
		}
		if grad == nil {
			return nil, empty
		}
	}
	if len(grad.Data) == 0 || grad.hasNaN() || !sameShape(grad.Shape, activation.Shape) {
		return nil, empty
	}

	return &model.Activation{
		Height:    h,
		Width:     w,
		Channels:  c,
		Values:    append([]float64(nil), activation.Data...),
		Gradients: grad.Data,
	}, nil
}

func (n *Network) isInnerLayer(name string) bool {
	found := false
	model.Walk(n.infos, func(l model.LayerInfo, depth int) bool {
		if depth > 0 && l.Name == name {
			found = true
			return false
		}
		return true
	})
	return found
}
