package network

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/anime-shed/mri-gradcam-go/internal/model"

	"gonum.org/v1/gonum/mat"
)

// Dense is a fully connected layer with weights laid out [in][units]
type Dense struct {
	name       string
	weights    *mat.Dense
	bias       *mat.VecDense
	activation string
}

// NewDense builds a dense layer. Nil weights or bias are initialized
// deterministically from the layer name.
func NewDense(name string, in, units int, activation string, weights, bias []float64) (*Dense, error) {
	if in <= 0 || units <= 0 {
		return nil, fmt.Errorf("dense %s: invalid dimensions %dx%d", name, in, units)
	}
	switch activation {
	case "":
		activation = ActivationLinear
	case ActivationLinear, ActivationReLU, ActivationSigmoid, ActivationSoftmax:
	default:
		return nil, fmt.Errorf("dense %s: unsupported activation %q", name, activation)
	}
	if weights == nil {
		weights = initWeights(name, in*units, in)
	}
	if len(weights) != in*units {
		return nil, fmt.Errorf("dense %s: expected %d weights, got %d", name, in*units, len(weights))
	}
	if bias == nil {
		bias = make([]float64, units)
	}
	if len(bias) != units {
		return nil, fmt.Errorf("dense %s: expected %d biases, got %d", name, units, len(bias))
	}
	return &Dense{
		name:       name,
		weights:    mat.NewDense(in, units, append([]float64(nil), weights...)),
		bias:       mat.NewVecDense(units, append([]float64(nil), bias...)),
		activation: activation,
	}, nil
}

func (l *Dense) Name() string          { return l.name }
func (l *Dense) Kind() model.LayerKind { return model.KindOther }

// Units returns the output width
func (l *Dense) Units() int {
	_, units := l.weights.Dims()
	return units
}

func (l *Dense) OutputShape(in []int) ([]int, error) {
	rows, units := l.weights.Dims()
	if len(in) != 1 || in[0] != rows {
		return nil, fmt.Errorf("dense %s: expected input [%d], got %v", l.name, rows, in)
	}
	return []int{units}, nil
}

func (l *Dense) Forward(in *Volume) (*Volume, error) {
	shape, err := l.OutputShape(in.Shape)
	if err != nil {
		return nil, err
	}
	x := mat.NewVecDense(len(in.Data), append([]float64(nil), in.Data...))
	z := mat.NewVecDense(shape[0], nil)
	z.MulVec(l.weights.T(), x)
	z.AddVec(z, l.bias)

	out := newVolume(shape...)
	for i := range out.Data {
		out.Data[i] = z.AtVec(i)
	}
	switch l.activation {
	case ActivationReLU:
		for i, v := range out.Data {
			out.Data[i] = math.Max(v, 0)
		}
	case ActivationSigmoid:
		for i, v := range out.Data {
			out.Data[i] = 1 / (1 + math.Exp(-v))
		}
	case ActivationSoftmax:
		softmax(out.Data)
	}
	return out, nil
}

func (l *Dense) Backward(in, out, gradOut *Volume) (*Volume, error) {
	gz := make([]float64, len(out.Data))
	switch l.activation {
	case ActivationReLU:
		for i, y := range out.Data {
			if y > 0 {
				gz[i] = gradOut.Data[i]
			}
		}
	case ActivationSigmoid:
		for i, y := range out.Data {
			gz[i] = gradOut.Data[i] * y * (1 - y)
		}
	case ActivationSoftmax:
		var dot float64
		for i, y := range out.Data {
			dot += gradOut.Data[i] * y
		}
		for i, y := range out.Data {
			gz[i] = y * (gradOut.Data[i] - dot)
		}
	default:
		copy(gz, gradOut.Data)
	}

	rows, _ := l.weights.Dims()
	dx := mat.NewVecDense(rows, nil)
	dx.MulVec(l.weights, mat.NewVecDense(len(gz), gz))
	gradIn := newVolume(in.Shape...)
	for i := range gradIn.Data {
		gradIn.Data[i] = dx.AtVec(i)
	}
	return gradIn, nil
}

func softmax(v []float64) {
	maxV := math.Inf(-1)
	for _, x := range v {
		maxV = math.Max(maxV, x)
	}
	var sum float64
	for i, x := range v {
		v[i] = math.Exp(x - maxV)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}

// initWeights draws small uniform weights seeded by the layer name so
// that untrained networks are reproducible
func initWeights(name string, n, fanIn int) []float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	r := rand.New(rand.NewPCG(h.Sum64(), uint64(n)))
	limit := math.Sqrt(6 / float64(fanIn+1))
	w := make([]float64, n)
	for i := range w {
		w[i] = (r.Float64()*2 - 1) * limit
	}
	return w
}
