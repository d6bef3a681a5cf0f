package network

import (
	"fmt"
	"math"

	"github.com/anime-shed/mri-gradcam-go/internal/model"
)

// Layer is one differentiable step of a network. Backward receives the
// layer's input, its output and the gradient of the score with respect
// to the output, and returns the gradient with respect to the input. A
// nil gradient means the path is not differentiable.
type Layer interface {
	Name() string
	Kind() model.LayerKind
	OutputShape(in []int) ([]int, error)
	Forward(in *Volume) (*Volume, error)
	Backward(in, out, gradOut *Volume) (*Volume, error)
}

// Activation names accepted by conv2d and dense layers
const (
	ActivationLinear  = "linear"
	ActivationReLU    = "relu"
	ActivationSigmoid = "sigmoid"
	ActivationSoftmax = "softmax"
)

// Padding modes for conv2d
const (
	PaddingSame  = "same"
	PaddingValid = "valid"
)

// Conv2D is a stride-1 2-D convolution. Weights are laid out
// [kernelH][kernelW][inChannels][filters].
type Conv2D struct {
	name       string
	kernelH    int
	kernelW    int
	inChannels int
	filters    int
	padding    string
	activation string
	weights    []float64
	bias       []float64
}

// NewConv2D builds a convolution. Nil weights or bias are initialized
// deterministically from the layer name.
func NewConv2D(name string, kernelH, kernelW, inChannels, filters int, padding, activation string, weights, bias []float64) (*Conv2D, error) {
	if kernelH <= 0 || kernelW <= 0 || inChannels <= 0 || filters <= 0 {
		return nil, fmt.Errorf("conv2d %s: invalid dimensions", name)
	}
	if padding == "" {
		padding = PaddingValid
	}
	if padding != PaddingSame && padding != PaddingValid {
		return nil, fmt.Errorf("conv2d %s: unsupported padding %q", name, padding)
	}
	if activation == "" {
		activation = ActivationLinear
	}
	if activation != ActivationLinear && activation != ActivationReLU {
		return nil, fmt.Errorf("conv2d %s: unsupported activation %q", name, activation)
	}
	n := kernelH * kernelW * inChannels * filters
	if weights == nil {
		weights = initWeights(name, n, kernelH*kernelW*inChannels)
	}
	if len(weights) != n {
		return nil, fmt.Errorf("conv2d %s: expected %d weights, got %d", name, n, len(weights))
	}
	if bias == nil {
		bias = make([]float64, filters)
	}
	if len(bias) != filters {
		return nil, fmt.Errorf("conv2d %s: expected %d biases, got %d", name, filters, len(bias))
	}
	return &Conv2D{
		name: name, kernelH: kernelH, kernelW: kernelW, inChannels: inChannels, filters: filters,
		padding: padding, activation: activation, weights: weights, bias: bias,
	}, nil
}

func (l *Conv2D) Name() string          { return l.name }
func (l *Conv2D) Kind() model.LayerKind { return model.KindConvolutional }

func (l *Conv2D) offsets() (padY, padX int) {
	if l.padding == PaddingSame {
		return (l.kernelH - 1) / 2, (l.kernelW - 1) / 2
	}
	return 0, 0
}

func (l *Conv2D) OutputShape(in []int) ([]int, error) {
	if err := requireSpatial(l.name, in); err != nil {
		return nil, err
	}
	if in[2] != l.inChannels {
		return nil, fmt.Errorf("conv2d %s: expected %d input channels, got %d", l.name, l.inChannels, in[2])
	}
	if l.padding == PaddingSame {
		return []int{in[0], in[1], l.filters}, nil
	}
	h, w := in[0]-l.kernelH+1, in[1]-l.kernelW+1
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("conv2d %s: input %v smaller than kernel", l.name, in)
	}
	return []int{h, w, l.filters}, nil
}

func (l *Conv2D) weight(ky, kx, ci, co int) float64 {
	return l.weights[((ky*l.kernelW+kx)*l.inChannels+ci)*l.filters+co]
}

func (l *Conv2D) Forward(in *Volume) (*Volume, error) {
	shape, err := l.OutputShape(in.Shape)
	if err != nil {
		return nil, err
	}
	out := newVolume(shape...)
	inH, inW, _ := in.dims()
	padY, padX := l.offsets()
	for y := 0; y < shape[0]; y++ {
		for x := 0; x < shape[1]; x++ {
			for co := 0; co < l.filters; co++ {
				sum := l.bias[co]
				for ky := 0; ky < l.kernelH; ky++ {
					sy := y + ky - padY
					if sy < 0 || sy >= inH {
						continue
					}
					for kx := 0; kx < l.kernelW; kx++ {
						sx := x + kx - padX
						if sx < 0 || sx >= inW {
							continue
						}
						for ci := 0; ci < l.inChannels; ci++ {
							sum += in.Data[in.idx(sy, sx, ci)] * l.weight(ky, kx, ci, co)
						}
					}
				}
				if l.activation == ActivationReLU && sum < 0 {
					sum = 0
				}
				out.Data[out.idx(y, x, co)] = sum
			}
		}
	}
	return out, nil
}

func (l *Conv2D) Backward(in, out, gradOut *Volume) (*Volume, error) {
	gradIn := newVolume(in.Shape...)
	inH, inW, _ := in.dims()
	outH, outW, _ := out.dims()
	padY, padX := l.offsets()
	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			for co := 0; co < l.filters; co++ {
				g := gradOut.Data[out.idx(y, x, co)]
				if l.activation == ActivationReLU && out.Data[out.idx(y, x, co)] <= 0 {
					continue
				}
				if g == 0 {
					continue
				}
				for ky := 0; ky < l.kernelH; ky++ {
					sy := y + ky - padY
					if sy < 0 || sy >= inH {
						continue
					}
					for kx := 0; kx < l.kernelW; kx++ {
						sx := x + kx - padX
						if sx < 0 || sx >= inW {
							continue
						}
						for ci := 0; ci < l.inChannels; ci++ {
							gradIn.Data[gradIn.idx(sy, sx, ci)] += g * l.weight(ky, kx, ci, co)
						}
					}
				}
			}
		}
	}
	return gradIn, nil
}

// MaxPool2D pools non-overlapping windows
type MaxPool2D struct {
	name  string
	poolH int
	poolW int
}

func NewMaxPool2D(name string, poolH, poolW int) (*MaxPool2D, error) {
	if poolH <= 0 || poolW <= 0 {
		return nil, fmt.Errorf("max_pooling2d %s: invalid pool size", name)
	}
	return &MaxPool2D{name: name, poolH: poolH, poolW: poolW}, nil
}

func (l *MaxPool2D) Name() string          { return l.name }
func (l *MaxPool2D) Kind() model.LayerKind { return model.KindOther }

func (l *MaxPool2D) OutputShape(in []int) ([]int, error) {
	if err := requireSpatial(l.name, in); err != nil {
		return nil, err
	}
	h, w := in[0]/l.poolH, in[1]/l.poolW
	if h == 0 || w == 0 {
		return nil, fmt.Errorf("max_pooling2d %s: input %v smaller than pool", l.name, in)
	}
	return []int{h, w, in[2]}, nil
}

// argmax returns the input index of the maximum within a pooling window
func (l *MaxPool2D) argmax(in *Volume, y, x, c int) int {
	best := -1
	bestVal := math.Inf(-1)
	for py := 0; py < l.poolH; py++ {
		for px := 0; px < l.poolW; px++ {
			i := in.idx(y*l.poolH+py, x*l.poolW+px, c)
			if in.Data[i] > bestVal {
				best, bestVal = i, in.Data[i]
			}
		}
	}
	return best
}

func (l *MaxPool2D) Forward(in *Volume) (*Volume, error) {
	shape, err := l.OutputShape(in.Shape)
	if err != nil {
		return nil, err
	}
	out := newVolume(shape...)
	for y := 0; y < shape[0]; y++ {
		for x := 0; x < shape[1]; x++ {
			for c := 0; c < shape[2]; c++ {
				out.Data[out.idx(y, x, c)] = in.Data[l.argmax(in, y, x, c)]
			}
		}
	}
	return out, nil
}

func (l *MaxPool2D) Backward(in, out, gradOut *Volume) (*Volume, error) {
	gradIn := newVolume(in.Shape...)
	h, w, c := out.dims()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < c; ch++ {
				gradIn.Data[l.argmax(in, y, x, ch)] += gradOut.Data[out.idx(y, x, ch)]
			}
		}
	}
	return gradIn, nil
}

// ReLU is a standalone rectifier
type ReLU struct{ name string }

func NewReLU(name string) *ReLU { return &ReLU{name: name} }

func (l *ReLU) Name() string                        { return l.name }
func (l *ReLU) Kind() model.LayerKind               { return model.KindOther }
func (l *ReLU) OutputShape(in []int) ([]int, error) { return append([]int(nil), in...), nil }

func (l *ReLU) Forward(in *Volume) (*Volume, error) {
	out := newVolume(in.Shape...)
	for i, v := range in.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	return out, nil
}

func (l *ReLU) Backward(in, out, gradOut *Volume) (*Volume, error) {
	gradIn := newVolume(in.Shape...)
	for i, v := range in.Data {
		if v > 0 {
			gradIn.Data[i] = gradOut.Data[i]
		}
	}
	return gradIn, nil
}

// Flatten turns a rank-3 volume into a feature vector
type Flatten struct{ name string }

func NewFlatten(name string) *Flatten { return &Flatten{name: name} }

func (l *Flatten) Name() string          { return l.name }
func (l *Flatten) Kind() model.LayerKind { return model.KindOther }

func (l *Flatten) OutputShape(in []int) ([]int, error) {
	n := 1
	for _, d := range in {
		n *= d
	}
	return []int{n}, nil
}

func (l *Flatten) Forward(in *Volume) (*Volume, error) {
	return &Volume{Shape: []int{len(in.Data)}, Data: append([]float64(nil), in.Data...)}, nil
}

func (l *Flatten) Backward(in, out, gradOut *Volume) (*Volume, error) {
	return &Volume{Shape: append([]int(nil), in.Shape...), Data: append([]float64(nil), gradOut.Data...)}, nil
}

// GlobalAveragePooling2D averages each channel over the spatial grid
type GlobalAveragePooling2D struct{ name string }

func NewGlobalAveragePooling2D(name string) *GlobalAveragePooling2D {
	return &GlobalAveragePooling2D{name: name}
}

func (l *GlobalAveragePooling2D) Name() string          { return l.name }
func (l *GlobalAveragePooling2D) Kind() model.LayerKind { return model.KindOther }

func (l *GlobalAveragePooling2D) OutputShape(in []int) ([]int, error) {
	if err := requireSpatial(l.name, in); err != nil {
		return nil, err
	}
	return []int{in[2]}, nil
}

func (l *GlobalAveragePooling2D) Forward(in *Volume) (*Volume, error) {
	if err := requireSpatial(l.name, in.Shape); err != nil {
		return nil, err
	}
	h, w, c := in.dims()
	out := newVolume(c)
	for i, v := range in.Data {
		out.Data[i%c] += v
	}
	for ch := range out.Data {
		out.Data[ch] /= float64(h * w)
	}
	return out, nil
}

func (l *GlobalAveragePooling2D) Backward(in, out, gradOut *Volume) (*Volume, error) {
	h, w, c := in.dims()
	gradIn := newVolume(in.Shape...)
	for i := range gradIn.Data {
		gradIn.Data[i] = gradOut.Data[i%c] / float64(h*w)
	}
	return gradIn, nil
}

// Dropout is the identity at inference time
type Dropout struct {
	name string
	rate float64
}

func NewDropout(name string, rate float64) *Dropout { return &Dropout{name: name, rate: rate} }

func (l *Dropout) Name() string                        { return l.name }
func (l *Dropout) Kind() model.LayerKind               { return model.KindOther }
func (l *Dropout) OutputShape(in []int) ([]int, error) { return append([]int(nil), in...), nil }

func (l *Dropout) Forward(in *Volume) (*Volume, error) {
	return &Volume{Shape: append([]int(nil), in.Shape...), Data: append([]float64(nil), in.Data...)}, nil
}

func (l *Dropout) Backward(in, out, gradOut *Volume) (*Volume, error) {
	return &Volume{Shape: append([]int(nil), in.Shape...), Data: append([]float64(nil), gradOut.Data...)}, nil
}

// StopGradient passes values forward and blocks the backward pass,
// matching frozen or detached branches in exported models
type StopGradient struct{ name string }

func NewStopGradient(name string) *StopGradient { return &StopGradient{name: name} }

func (l *StopGradient) Name() string                        { return l.name }
func (l *StopGradient) Kind() model.LayerKind               { return model.KindOther }
func (l *StopGradient) OutputShape(in []int) ([]int, error) { return append([]int(nil), in...), nil }

func (l *StopGradient) Forward(in *Volume) (*Volume, error) {
	return &Volume{Shape: append([]int(nil), in.Shape...), Data: append([]float64(nil), in.Data...)}, nil
}

func (l *StopGradient) Backward(in, out, gradOut *Volume) (*Volume, error) {
	return nil, nil
}
