package network

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/anime-shed/mri-gradcam-go/internal/model"
)

// Document is the JSON weights format read by Load
type Document struct {
	Name       string      `json:"name"`
	InputShape []int       `json:"input_shape"`
	Classes    []string    `json:"classes"`
	Layers     []LayerSpec `json:"layers"`
}

// LayerSpec describes one layer in a Document
type LayerSpec struct {
	Type       string      `json:"type"`
	Name       string      `json:"name"`
	Filters    int         `json:"filters,omitempty"`
	KernelSize []int       `json:"kernel_size,omitempty"`
	PoolSize   []int       `json:"pool_size,omitempty"`
	Padding    string      `json:"padding,omitempty"`
	Activation string      `json:"activation,omitempty"`
	Units      int         `json:"units,omitempty"`
	Rate       float64     `json:"rate,omitempty"`
	Weights    []float64   `json:"weights,omitempty"`
	Bias       []float64   `json:"bias,omitempty"`
	Layers     []LayerSpec `json:"layers,omitempty"`
}

// LoadFile reads a weights document from disk
func LoadFile(path string) (*Network, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open model %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a weights document into a network and its class labels
func Load(r io.Reader) (*Network, []string, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("failed to decode model document: %w", err)
	}
	if len(doc.InputShape) != 3 {
		return nil, nil, fmt.Errorf("input_shape must be [height, width, channels], got %v", doc.InputShape)
	}
	input := model.InputContract{Height: doc.InputShape[0], Width: doc.InputShape[1], Channels: doc.InputShape[2]}

	shape := append([]int(nil), doc.InputShape...)
	layers, _, err := buildLayers(doc.Layers, shape)
	if err != nil {
		return nil, nil, err
	}
	net, err := New(doc.Name, input, layers...)
	if err != nil {
		return nil, nil, err
	}
	return net, doc.Classes, nil
}

// buildLayers tracks the running shape so specs can omit input sizes
func buildLayers(specs []LayerSpec, shape []int) ([]Layer, []int, error) {
	layers := make([]Layer, 0, len(specs))
	for _, spec := range specs {
		l, err := buildLayer(spec, shape)
		if err != nil {
			return nil, nil, err
		}
		next, err := l.OutputShape(shape)
		if err != nil {
			return nil, nil, err
		}
		layers = append(layers, l)
		shape = next
	}
	return layers, shape, nil
}

// missingWeights rejects trainable layers without weights; an untrained
// network would still predict, just meaninglessly
func missingWeights(spec LayerSpec) error {
	return fmt.Errorf("%s %s: weights are missing", spec.Type, spec.Name)
}

func buildLayer(spec LayerSpec, shape []int) (Layer, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("layer of type %q has no name", spec.Type)
	}
	switch spec.Type {
	case "conv2d":
		if len(spec.KernelSize) != 2 {
			return nil, fmt.Errorf("conv2d %s: kernel_size must have 2 entries", spec.Name)
		}
		if len(shape) != 3 {
			return nil, fmt.Errorf("conv2d %s: expects a spatial input, got %v", spec.Name, shape)
		}
		if len(spec.Weights) == 0 {
			return nil, missingWeights(spec)
		}
		return NewConv2D(spec.Name, spec.KernelSize[0], spec.KernelSize[1], shape[2], spec.Filters,
			spec.Padding, spec.Activation, spec.Weights, spec.Bias)
	case "max_pooling2d":
		pool := spec.PoolSize
		if len(pool) == 0 {
			pool = []int{2, 2}
		}
		if len(pool) != 2 {
			return nil, fmt.Errorf("max_pooling2d %s: pool_size must have 2 entries", spec.Name)
		}
		return NewMaxPool2D(spec.Name, pool[0], pool[1])
	case "relu":
		return NewReLU(spec.Name), nil
	case "flatten":
		return NewFlatten(spec.Name), nil
	case "global_average_pooling2d":
		return NewGlobalAveragePooling2D(spec.Name), nil
	case "dense":
		if len(shape) != 1 {
			return nil, fmt.Errorf("dense %s: expects a vector input, got %v", spec.Name, shape)
		}
		if len(spec.Weights) == 0 {
			return nil, missingWeights(spec)
		}
		return NewDense(spec.Name, shape[0], spec.Units, spec.Activation, spec.Weights, spec.Bias)
	case "dropout":
		return NewDropout(spec.Name, spec.Rate), nil
	case "stop_gradient":
		return NewStopGradient(spec.Name), nil
	case "sequential":
		inner, _, err := buildLayers(spec.Layers, shape)
		if err != nil {
			return nil, fmt.Errorf("sequential %s: %w", spec.Name, err)
		}
		return NewSequential(spec.Name, inner...)
	default:
		return nil, fmt.Errorf("layer %s: unsupported type %q", spec.Name, spec.Type)
	}
}
