package network

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/anime-shed/mri-gradcam-go/internal/model"
)

// weightList renders n small deterministic weights as a JSON array
func weightList(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = strconv.FormatFloat(float64(i%7-3)/20, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

var subclassDocument = fmt.Sprintf(`{
  "name": "subclass",
  "input_shape": [8, 8, 3],
  "classes": ["Hemorrhagic Dementia", "Binswanger Dementia", "Strategic Dementia", "Subcortical Dementia"],
  "layers": [
    {"type": "sequential", "name": "vgg16", "layers": [
      {"type": "conv2d", "name": "block1_conv1", "filters": 4, "kernel_size": [3, 3], "padding": "same", "activation": "relu", "weights": %s},
      {"type": "max_pooling2d", "name": "block1_pool"}
    ]},
    {"type": "flatten", "name": "flatten"},
    {"type": "dense", "name": "fc", "units": 8, "activation": "relu", "weights": %s},
    {"type": "dropout", "name": "dropout", "rate": 0.5},
    {"type": "dense", "name": "predictions", "units": 4, "activation": "softmax", "weights": %s}
  ]
}`, weightList(3*3*3*4), weightList(4*4*4*8), weightList(8*4))

func TestLoad_Document(t *testing.T) {
	net, classes, err := Load(strings.NewReader(subclassDocument))
	if err != nil {
		t.Fatalf("Expected document to load, got %v", err)
	}
	if len(classes) != 4 || classes[1] != "Binswanger Dementia" {
		t.Errorf("Unexpected classes %v", classes)
	}
	if net.Input().Height != 8 || net.Input().Channels != 3 {
		t.Errorf("Unexpected input contract %+v", net.Input())
	}
	layers := net.Layers()
	if layers[0].Kind != model.KindNested || layers[0].Children[0].Kind != model.KindConvolutional {
		t.Errorf("Expected nested backbone with a convolutional child, got %+v", layers[0])
	}
	if !sameShape(layers[0].OutputShape, []int{1, 4, 4, 4}) {
		t.Errorf("Expected backbone output [1 4 4 4], got %v", layers[0].OutputShape)
	}
	scores, err := net.Predict(rampTensor(8, 8, 3))
	if err != nil || len(scores) != 4 {
		t.Fatalf("Expected 4 scores, got %v / %v", scores, err)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"bad json", `{`, "decode"},
		{"bad input shape", `{"name":"x","input_shape":[4,4],"layers":[]}`, "input_shape"},
		{"unknown layer", `{"name":"x","input_shape":[4,4,1],"layers":[{"type":"lstm","name":"l"}]}`, "unsupported type"},
		{"wrong weight count", `{"name":"x","input_shape":[4,4,1],"layers":[{"type":"conv2d","name":"c","filters":1,"kernel_size":[3,3],"weights":[1,2]}]}`, "weights"},
		{"dense on spatial input", `{"name":"x","input_shape":[4,4,1],"layers":[{"type":"dense","name":"d","units":2}]}`, "vector input"},
		{"conv2d without weights", `{"name":"x","input_shape":[8,8,3],"layers":[{"type":"conv2d","name":"conv1","filters":2,"kernel_size":[3,3]},{"type":"global_average_pooling2d","name":"gap"},{"type":"dense","name":"out","units":1,"weights":[1,1]}]}`, "conv2d conv1: weights are missing"},
		{"dense without weights", `{"name":"x","input_shape":[4,4,1],"layers":[{"type":"flatten","name":"flatten"},{"type":"dense","name":"out","units":1,"activation":"sigmoid"}]}`, "dense out: weights are missing"},
		{"nested conv2d without weights", `{"name":"x","input_shape":[4,4,1],"layers":[{"type":"sequential","name":"vgg16","layers":[{"type":"conv2d","name":"block1_conv1","filters":1,"kernel_size":[3,3]}]}]}`, "block1_conv1: weights are missing"},
		{"unnamed layer", `{"name":"x","input_shape":[4,4,1],"layers":[{"type":"flatten"}]}`, "no name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Load(strings.NewReader(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
