package network

import (
	"fmt"

	"github.com/anime-shed/mri-gradcam-go/internal/model"
)

// Sequential is a nested sub-network, such as a pretrained backbone,
// that the outer network sees as a single layer
type Sequential struct {
	name   string
	layers []Layer
}

func NewSequential(name string, layers ...Layer) (*Sequential, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("sequential %s: no layers", name)
	}
	return &Sequential{name: name, layers: layers}, nil
}

func (s *Sequential) Name() string          { return s.name }
func (s *Sequential) Kind() model.LayerKind { return model.KindNested }

// Layers returns the inner layers in forward order
func (s *Sequential) Layers() []Layer { return s.layers }

func (s *Sequential) OutputShape(in []int) ([]int, error) {
	shape := in
	for _, l := range s.layers {
		next, err := l.OutputShape(shape)
		if err != nil {
			return nil, fmt.Errorf("%s/%w", s.name, err)
		}
		shape = next
	}
	return shape, nil
}

func (s *Sequential) forwardAll(in *Volume) ([]*Volume, error) {
	outs := make([]*Volume, 0, len(s.layers)+1)
	outs = append(outs, in)
	cur := in
	for _, l := range s.layers {
		next, err := l.Forward(cur)
		if err != nil {
			return nil, err
		}
		outs = append(outs, next)
		cur = next
	}
	return outs, nil
}

func (s *Sequential) Forward(in *Volume) (*Volume, error) {
	outs, err := s.forwardAll(in)
	if err != nil {
		return nil, err
	}
	return outs[len(outs)-1], nil
}

func (s *Sequential) Backward(in, _ *Volume, gradOut *Volume) (*Volume, error) {
	outs, err := s.forwardAll(in)
	if err != nil {
		return nil, err
	}
	grad := gradOut
	for i := len(s.layers) - 1; i >= 0; i-- {
		grad, err = s.layers[i].Backward(outs[i], outs[i+1], grad)
		if err != nil || grad == nil {
			return grad, err
		}
	}
	return grad, nil
}

// describe builds LayerInfo for a layer given its input shape
func describe(l Layer, in []int) (model.LayerInfo, []int, error) {
	out, err := l.OutputShape(in)
	if err != nil {
		return model.LayerInfo{}, nil, err
	}
	info := model.LayerInfo{Name: l.Name(), Kind: l.Kind(), OutputShape: withBatch(out)}
	if seq, ok := l.(*Sequential); ok {
		shape := in
		for _, child := range seq.layers {
			ci, next, err := describe(child, shape)
			if err != nil {
				return model.LayerInfo{}, nil, err
			}
			info.Children = append(info.Children, ci)
			shape = next
		}
	}
	return info, out, nil
}
