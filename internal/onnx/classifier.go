package onnx

import (
	"errors"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/anime-shed/mri-gradcam-go/internal/model"
)

// ErrClosed is returned by runs on a classifier whose sessions were released
var ErrClosed = errors.New("onnx classifier is closed")

var (
	envOnce sync.Once
	envErr  error
)

// Initialize loads the onnxruntime shared library once per process.
// libraryPath may be empty to use the platform default.
func Initialize(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	})
	return envErr
}

// Classifier runs an ONNX model. Sessions are bound to pre-allocated
// tensors, so runs are serialized with a mutex.
type Classifier struct {
	meta   *Metadata
	infos  []model.LayerInfo
	input  model.InputContract
	output model.OutputContract

	mu           sync.Mutex
	closed       bool
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	tap          *gradientTap
}

type gradientTap struct {
	meta       TapMeta
	h, w, c    int
	session    *ort.AdvancedSession
	input      *ort.Tensor[float32]
	class      *ort.Tensor[int64]
	activation *ort.Tensor[float32]
	gradient   *ort.Tensor[float32]
}

// Open loads modelPath with metadata from metaPath.
func Open(modelPath, metaPath, libraryPath string) (*Classifier, error) {
	meta, err := LoadMetadataFile(metaPath)
	if err != nil {
		return nil, err
	}
	if err := Initialize(libraryPath); err != nil {
		return nil, err
	}

	c := &Classifier{
		meta:   meta,
		infos:  meta.LayerInfos(),
		input:  meta.Input(),
		output: meta.OutputContract(),
	}
	if err := c.open(modelPath); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Classifier) open(modelPath string) error {
	var err error
	c.inputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(c.meta.InputShape...))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}
	c.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(c.output.Classes)))
	if err != nil {
		return fmt.Errorf("failed to create output tensor: %w", err)
	}
	c.session, err = ort.NewAdvancedSession(modelPath,
		[]string{c.meta.InputName}, []string{c.meta.OutputName},
		[]ort.ArbitraryTensor{c.inputTensor}, []ort.ArbitraryTensor{c.outputTensor},
		nil)
	if err != nil {
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}

	if c.meta.GradCAM == nil {
		return nil
	}
	return c.openTap(modelPath, *c.meta.GradCAM)
}

func (c *Classifier) openTap(modelPath string, meta TapMeta) error {
	info, _ := model.FindLayer(c.infos, meta.Layer)
	t := &gradientTap{meta: meta, h: info.OutputShape[1], w: info.OutputShape[2], c: info.OutputShape[3]}
	c.tap = t

	// raw shape in the graph's own layout
	shape := ort.NewShape(1, int64(t.h), int64(t.w), int64(t.c))
	if c.meta.Layout == LayoutNCHW {
		shape = ort.NewShape(1, int64(t.c), int64(t.h), int64(t.w))
	}

	var err error
	if t.input, err = ort.NewEmptyTensor[float32](ort.NewShape(c.meta.InputShape...)); err != nil {
		return fmt.Errorf("failed to create tap input tensor: %w", err)
	}
	if t.class, err = ort.NewEmptyTensor[int64](ort.NewShape(1)); err != nil {
		return fmt.Errorf("failed to create class tensor: %w", err)
	}
	if t.activation, err = ort.NewEmptyTensor[float32](shape); err != nil {
		return fmt.Errorf("failed to create activation tensor: %w", err)
	}
	if t.gradient, err = ort.NewEmptyTensor[float32](shape); err != nil {
		return fmt.Errorf("failed to create gradient tensor: %w", err)
	}
	t.session, err = ort.NewAdvancedSession(modelPath,
		[]string{c.meta.InputName, meta.ClassInput},
		[]string{meta.ActivationOutput, meta.GradientOutput},
		[]ort.ArbitraryTensor{t.input, t.class},
		[]ort.ArbitraryTensor{t.activation, t.gradient},
		nil)
	if err != nil {
		return fmt.Errorf("failed to create gradient session: %w", err)
	}
	return nil
}

func (c *Classifier) Name() string                 { return c.meta.Name }
func (c *Classifier) Layers() []model.LayerInfo    { return c.infos }
func (c *Classifier) Input() model.InputContract   { return c.input }
func (c *Classifier) Output() model.OutputContract { return c.output }

// Labels returns the class names from the metadata.
func (c *Classifier) Labels() []string { return c.meta.Classes }

func (c *Classifier) checkInput(t *model.Tensor) error {
	if t == nil {
		return fmt.Errorf("nil input tensor")
	}
	if t.Height != c.input.Height || t.Width != c.input.Width || t.Channels != c.input.Channels {
		return fmt.Errorf("input %dx%dx%d does not match model input %dx%dx%d",
			t.Height, t.Width, t.Channels, c.input.Height, c.input.Width, c.input.Channels)
	}
	return t.Validate()
}

func (c *Classifier) Predict(input *model.Tensor) ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if err := c.checkInput(input); err != nil {
		return nil, err
	}

	packInput(input, c.meta.Layout, c.inputTensor.GetData())
	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	raw := c.outputTensor.GetData()
	scores := make([]float64, len(raw))
	for i, v := range raw {
		scores[i] = float64(v)
	}
	return scores, nil
}

// ActivationGradients only resolves the layer the model was exported
// with a gradient tap for.
func (c *Classifier) ActivationGradients(input *model.Tensor, layer string, classIndex int) (*model.Activation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.tap == nil {
		return nil, &model.UnresolvableLayerError{Layer: layer, Reason: "model was exported without a gradient tap"}
	}
	if layer != c.tap.meta.Layer {
		reason := "no such layer"
		if _, ok := model.FindLayer(c.infos, layer); ok {
			reason = "no gradient tap exported for this layer"
		}
		return nil, &model.UnresolvableLayerError{Layer: layer, Reason: reason}
	}
	if classIndex < 0 || classIndex >= c.output.Classes {
		return nil, fmt.Errorf("class index %d out of range for %d outputs", classIndex, c.output.Classes)
	}
	if err := c.checkInput(input); err != nil {
		return nil, err
	}

	t := c.tap
	packInput(input, c.meta.Layout, t.input.GetData())
	t.class.GetData()[0] = int64(classIndex)
	if err := t.session.Run(); err != nil {
		return nil, fmt.Errorf("gradient pass failed: %w", err)
	}

	values := unpackHWC(t.activation.GetData(), c.meta.Layout, t.h, t.w, t.c)
	grads := unpackHWC(t.gradient.GetData(), c.meta.Layout, t.h, t.w, t.c)
	for _, g := range grads {
		if math.IsNaN(g) {
			return nil, &model.EmptyGradientError{Layer: layer, Height: t.h, Width: t.w}
		}
	}

	return &model.Activation{Height: t.h, Width: t.w, Channels: t.c, Values: values, Gradients: grads}, nil
}

// Close destroys sessions and tensors. The shared environment stays up
// because other classifiers may still use it.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if t := c.tap; t != nil {
		if t.session != nil {
			t.session.Destroy()
		}
		if t.input != nil {
			t.input.Destroy()
		}
		if t.class != nil {
			t.class.Destroy()
		}
		if t.activation != nil {
			t.activation.Destroy()
		}
		if t.gradient != nil {
			t.gradient.Destroy()
		}
		c.tap = nil
	}
	if c.session != nil {
		c.session.Destroy()
		c.session = nil
	}
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
		c.inputTensor = nil
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
		c.outputTensor = nil
	}
	return nil
}
