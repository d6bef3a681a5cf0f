package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

var binaryDocument = fmt.Sprintf(`{
  "name": "vad-binary",
  "input_shape": [8, 8, 3],
  "layers": [
    {"type": "conv2d", "name": "conv1", "filters": 2, "kernel_size": [3, 3], "padding": "same", "activation": "relu", "weights": %s},
    {"type": "global_average_pooling2d", "name": "gap"},
    {"type": "dense", "name": "out", "units": 1, "activation": "sigmoid", "weights": [0.5, -0.5]}
  ]
}`, weightList(3*3*3*2))

// weightList renders n small deterministic weights as a JSON array
func weightList(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = strconv.FormatFloat(float64(i%5-2)/50, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func TestBackendFor(t *testing.T) {
	tests := []struct {
		source  string
		want    BackendType
		wantErr bool
	}{
		{"/models/binary.json", NetworkBackend, false},
		{"models/Subclass.ONNX", ONNXBackend, false},
		{"https://models.example.com/v1/binary.onnx?sig=abc", ONNXBackend, false},
		{"/models/binary.h5", "", true},
		{"binary", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			got, err := BackendFor(tt.source)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCreateStorage(t *testing.T) {
	f := NewStorageFactory(time.Second, "", "", "")

	fetcher, err := f.CreateStorage(HTTPStorage)
	if err != nil || fetcher == nil {
		t.Errorf("Expected an HTTP fetcher, got %v / %v", fetcher, err)
	}
	fetcher, err = f.CreateStorage(LocalStorage)
	if err != nil || fetcher != nil {
		t.Errorf("Expected no fetcher for local storage, got %v / %v", fetcher, err)
	}
	if _, err := f.CreateStorage(AzureStorage); err == nil {
		t.Error("Expected azure without credentials to fail")
	}
	if _, err := f.CreateStorage("ftp"); err == nil {
		t.Error("Expected unknown storage type to fail")
	}
}

func TestCreateClassifier_NetworkDocument(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "binary.json")
	if err := os.WriteFile(modelPath, []byte(binaryDocument), 0o644); err != nil {
		t.Fatal(err)
	}

	components, err := NewComponentFactory(NewStorageFactory(time.Second, "", "", ""), LocalStorage, dir, "")
	if err != nil {
		t.Fatalf("Expected factory, got %v", err)
	}
	handle, err := components.ClassifierFactory.CreateClassifier(context.Background(), modelPath)
	if err != nil {
		t.Fatalf("Expected classifier to load, got %v", err)
	}
	if handle.Classifier.Name() != "vad-binary" || handle.Source != modelPath {
		t.Errorf("Unexpected handle %+v", handle)
	}
	if in := handle.Classifier.Input(); in.Height != 8 || in.Channels != 3 {
		t.Errorf("Unexpected input contract %+v", in)
	}

	if _, err := components.ClassifierFactory.CreateClassifier(context.Background(), filepath.Join(dir, "missing.json")); err == nil {
		t.Error("Expected a missing local model to fail")
	}
}
