// Package onnx serves classifiers exported to ONNX through onnxruntime.
package onnx

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/anime-shed/mri-gradcam-go/internal/model"
)

// Tensor layouts.
const (
	LayoutNHWC = "NHWC"
	LayoutNCHW = "NCHW"
)

// Metadata describes an exported model. It lives next to the .onnx file
// as <name>.meta.json because ONNX graphs carry no layer kinds.
type Metadata struct {
	Name       string      `json:"name"`
	InputName  string      `json:"input_name"`
	OutputName string      `json:"output_name"`
	InputShape []int64     `json:"input_shape"`
	Layout     string      `json:"layout"`
	Output     string      `json:"output_kind"`
	Classes    []string    `json:"classes"`
	Layers     []LayerMeta `json:"layers"`
	GradCAM    *TapMeta    `json:"gradcam,omitempty"`
}

// LayerMeta mirrors model.LayerInfo with a string kind.
type LayerMeta struct {
	Name        string      `json:"name"`
	Kind        string      `json:"kind"`
	OutputShape []int       `json:"output_shape,omitempty"`
	Children    []LayerMeta `json:"children,omitempty"`
}

// TapMeta names the extra graph outputs that expose one layer's
// activation and the gradient of a selected class score with respect to it.
// The class is chosen through an int64 input of shape [1].
type TapMeta struct {
	Layer            string `json:"layer"`
	ClassInput       string `json:"class_input"`
	ActivationOutput string `json:"activation_output"`
	GradientOutput   string `json:"gradient_output"`
}

// LoadMetadataFile reads and validates a metadata document.
func LoadMetadataFile(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model metadata: %w", err)
	}
	defer f.Close()
	return LoadMetadata(f)
}

// LoadMetadata decodes and validates a metadata document, filling defaults.
func LoadMetadata(r io.Reader) (*Metadata, error) {
	var m Metadata
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse model metadata: %w", err)
	}
	if err := m.normalize(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metadata) normalize() error {
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	m.Layout = strings.ToUpper(m.Layout)
	if m.Layout == "" {
		m.Layout = LayoutNHWC
	}
	if m.Layout != LayoutNHWC && m.Layout != LayoutNCHW {
		return fmt.Errorf("model metadata: unknown layout %q", m.Layout)
	}
	if len(m.InputShape) != 4 || m.InputShape[0] != 1 {
		return fmt.Errorf("model metadata: input_shape must be [1, ...] of rank 4, got %v", m.InputShape)
	}
	for _, d := range m.InputShape {
		if d <= 0 {
			return fmt.Errorf("model metadata: input_shape has non-positive dimension: %v", m.InputShape)
		}
	}
	if len(m.Classes) == 0 {
		return fmt.Errorf("model metadata: classes are required")
	}
	switch strings.ToLower(m.Output) {
	case "":
		m.Output = "softmax"
		if len(m.Classes) == 2 {
			// a two-label sigmoid model reports one score
			m.Output = "sigmoid"
		}
	case "sigmoid", "softmax":
		m.Output = strings.ToLower(m.Output)
	default:
		return fmt.Errorf("model metadata: unknown output_kind %q", m.Output)
	}
	if tap := m.GradCAM; tap != nil {
		if tap.Layer == "" || tap.ClassInput == "" || tap.ActivationOutput == "" || tap.GradientOutput == "" {
			return fmt.Errorf("model metadata: gradcam tap needs layer, class_input, activation_output and gradient_output")
		}
		info, ok := model.FindLayer(m.LayerInfos(), tap.Layer)
		if !ok {
			return fmt.Errorf("model metadata: gradcam layer %q is not listed in layers", tap.Layer)
		}
		if !info.HasSpatialOutput() {
			return fmt.Errorf("model metadata: gradcam layer %q has no spatial output", tap.Layer)
		}
	}
	return nil
}

// Input returns the input contract in HWC terms.
func (m *Metadata) Input() model.InputContract {
	if m.Layout == LayoutNCHW {
		return model.InputContract{Channels: int(m.InputShape[1]), Height: int(m.InputShape[2]), Width: int(m.InputShape[3])}
	}
	return model.InputContract{Height: int(m.InputShape[1]), Width: int(m.InputShape[2]), Channels: int(m.InputShape[3])}
}

// OutputContract returns the output contract.
func (m *Metadata) OutputContract() model.OutputContract {
	if m.Output == "sigmoid" {
		return model.OutputContract{Kind: model.OutputSigmoid, Classes: 1}
	}
	return model.OutputContract{Kind: model.OutputSoftmax, Classes: len(m.Classes)}
}

// LayerInfos converts the layer list. Shapes are reported in HWC order
// regardless of layout.
func (m *Metadata) LayerInfos() []model.LayerInfo {
	return convertLayers(m.Layers, m.Layout)
}

func convertLayers(layers []LayerMeta, layout string) []model.LayerInfo {
	out := make([]model.LayerInfo, 0, len(layers))
	for _, l := range layers {
		info := model.LayerInfo{Name: l.Name, Kind: parseKind(l.Kind), OutputShape: append([]int(nil), l.OutputShape...)}
		if layout == LayoutNCHW && len(info.OutputShape) == 4 {
			s := info.OutputShape
			info.OutputShape = []int{s[0], s[2], s[3], s[1]}
		}
		if len(l.Children) > 0 {
			info.Children = convertLayers(l.Children, layout)
		}
		out = append(out, info)
	}
	return out
}

func parseKind(s string) model.LayerKind {
	switch strings.ToLower(s) {
	case "conv", "conv2d", "convolutional":
		return model.KindConvolutional
	case "nested", "model", "sequential":
		return model.KindNested
	}
	return model.KindOther
}
