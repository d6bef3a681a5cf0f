package gradcam

import (
	"errors"
	"fmt"
	"image"
	"math"
	"math/rand/v2"

	"github.com/anime-shed/mri-gradcam-go/internal/heatmap"
	"github.com/anime-shed/mri-gradcam-go/internal/model"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNoTargetLayer means the locator found nothing to explain from
	ErrNoTargetLayer = errors.New("no target layer found")
	// ErrNotApplicable is returned by a strategy that does not handle
	// the previous failure
	ErrNotApplicable = errors.New("strategy not applicable")
)

// DefaultGridSize is the side of the random stand-in grid
const DefaultGridSize = 16

// Request is everything a strategy may draw on. Layer is the resolved
// target layer, empty when none was found.
type Request struct {
	Classifier model.Classifier
	Input      *model.Tensor
	Original   *model.OriginalImage
	Mask       *image.Gray
	Layer      string
	ClassIndex int
}

// Strategy produces a raw heatmap. cause is the failure of the last
// attempted strategy, nil before any attempt.
type Strategy interface {
	Name() string
	Generate(req *Request, cause error) (*mat.Dense, error)
}

// Terminal is the last rung of a ladder. It has no error return.
type Terminal interface {
	Name() string
	Fallback(req *Request) *mat.Dense
}

// GradCAM is the primary gradient-weighted strategy
type GradCAM struct{}

func (GradCAM) Name() string { return "gradcam" }

func (GradCAM) Generate(req *Request, _ error) (*mat.Dense, error) {
	if req.Layer == "" {
		return nil, ErrNoTargetLayer
	}
	return ComputeGradCAM(req.Classifier, req.Input, req.Layer, req.ClassIndex)
}

// RandomGrid stands in with uniform noise on a small grid when there is
// no layer to explain from
type RandomGrid struct {
	Size   int
	Random func() float64
}

func (RandomGrid) Name() string { return "random_grid" }

func (s RandomGrid) Generate(req *Request, cause error) (*mat.Dense, error) {
	if !errors.Is(cause, ErrNoTargetLayer) {
		return nil, ErrNotApplicable
	}
	return s.Fallback(req), nil
}

// Fallback always succeeds, which makes RandomGrid usable as a Terminal
func (s RandomGrid) Fallback(_ *Request) *mat.Dense {
	size := s.Size
	if size <= 0 {
		size = DefaultGridSize
	}
	return randomGrid(size, size, s.Random)
}

// LayerGrid is random noise sized to the layer whose gradient was empty
type LayerGrid struct {
	Random func() float64
}

func (LayerGrid) Name() string { return "layer_grid" }

func (s LayerGrid) Generate(_ *Request, cause error) (*mat.Dense, error) {
	if !errors.Is(cause, model.ErrEmptyGradient) {
		return nil, ErrNotApplicable
	}
	h, w := DefaultGridSize, DefaultGridSize
	var empty *model.EmptyGradientError
	if errors.As(cause, &empty) && empty.Height > 0 && empty.Width > 0 {
		h, w = empty.Height, empty.Width
	}
	return randomGrid(h, w, s.Random), nil
}

func randomGrid(h, w int, random func() float64) *mat.Dense {
	if random == nil {
		random = rand.Float64
	}
	d := mat.NewDense(h, w, nil)
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			d.Set(i, j, random())
		}
	}
	return d
}

// EdgeSaliency uses Sobel gradient magnitude of the scan when the
// gradient graph could not be built
type EdgeSaliency struct{}

func (EdgeSaliency) Name() string { return "edge_saliency" }

func (EdgeSaliency) Generate(req *Request, cause error) (*mat.Dense, error) {
	if !errors.Is(cause, model.ErrLayerUnresolvable) {
		return nil, ErrNotApplicable
	}
	if err := req.Original.Validate(); err != nil {
		return nil, err
	}
	return heatmap.EdgeMagnitude(req.Original.ToGray())
}

// CannyEdges is the catch-all for any failure
type CannyEdges struct{}

func (CannyEdges) Name() string { return "canny_edges" }

func (CannyEdges) Generate(req *Request, cause error) (*mat.Dense, error) {
	if cause == nil {
		return nil, ErrNotApplicable
	}
	if err := req.Original.Validate(); err != nil {
		return nil, err
	}
	return heatmap.CannyEdges(req.Original.ToGray())
}

// Anatomical synthesizes heat from three Gaussian hotspots placed
// relative to the tissue centroid: central, frontal and a bilateral
// temporal pair, weighted 0.5, 0.2 and 0.3. Heat outside the mask is
// zero.
type Anatomical struct{}

func (Anatomical) Name() string { return "anatomical" }

func (Anatomical) Generate(req *Request, cause error) (*mat.Dense, error) {
	if cause == nil {
		return nil, ErrNotApplicable
	}
	if err := req.Original.Validate(); err != nil {
		return nil, err
	}
	mask := req.Mask
	if mask == nil {
		derived, err := heatmap.TissueMask(req.Original)
		if err != nil {
			return nil, fmt.Errorf("anatomical fallback needs a mask: %w", err)
		}
		mask = derived
	}
	return anatomicalHeatmap(mask, req.Original.Width, req.Original.Height), nil
}

func anatomicalHeatmap(mask *image.Gray, w, h int) *mat.Dense {
	inside := func(x, y int) bool {
		p := image.Pt(x, y).Add(mask.Bounds().Min)
		return p.In(mask.Bounds()) && mask.GrayAt(p.X, p.Y).Y > 0
	}

	var sumX, sumY, count int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if inside(x, y) {
				sumX += x
				sumY += y
				count++
			}
		}
	}
	cx, cy := w/2, h/2
	if count > 0 {
		cx, cy = sumX/count, sumY/count
	}

	size := min(w, h)
	gauss := func(x, y, px, py int, sigma float64) float64 {
		dx, dy := float64(x-px), float64(y-py)
		return math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
	}
	frontalY := cy - size/5
	leftX, rightX := cx-size/3, cx+size/3

	d := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !inside(x, y) {
				continue
			}
			ventricle := gauss(x, y, cx, cy, float64(size)/6)
			frontal := gauss(x, y, cx, frontalY, float64(size)/5)
			temporal := math.Max(gauss(x, y, leftX, cy, float64(size)/6), gauss(x, y, rightX, cy, float64(size)/6))
			d.Set(y, x, 0.5*ventricle+0.3*temporal+0.2*frontal)
		}
	}
	return d
}
