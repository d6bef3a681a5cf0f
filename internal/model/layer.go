package model

// LayerKind tags a layer for the explanation engine
type LayerKind int

const (
	KindOther LayerKind = iota
	KindConvolutional
	KindNested
)

func (k LayerKind) String() string {
	switch k {
	case KindConvolutional:
		return "convolutional"
	case KindNested:
		return "nested"
	default:
		return "other"
	}
}

// LayerInfo describes one introspectable layer of a classifier.
// OutputShape includes the batch dimension, so a rank-4 shape
// (batch, height, width, channels) keeps spatial structure.
type LayerInfo struct {
	Name        string      `json:"name"`
	Kind        LayerKind   `json:"-"`
	OutputShape []int       `json:"output_shape,omitempty"`
	Children    []LayerInfo `json:"children,omitempty"`
}

// LayerVisitor receives one callback per layer kind
type LayerVisitor interface {
	VisitConvolutional(layer LayerInfo)
	VisitNested(layer LayerInfo)
	VisitOther(layer LayerInfo)
}

// Accept dispatches the layer to the visitor method for its kind
func (l LayerInfo) Accept(v LayerVisitor) {
	switch l.Kind {
	case KindConvolutional:
		v.VisitConvolutional(l)
	case KindNested:
		v.VisitNested(l)
	default:
		v.VisitOther(l)
	}
}

// HasSpatialOutput reports whether the layer output is rank 4
func (l LayerInfo) HasSpatialOutput() bool {
	return len(l.OutputShape) == 4
}

// SpatialSize returns the height and width of a rank-4 output
func (l LayerInfo) SpatialSize() (height, width int, ok bool) {
	if !l.HasSpatialOutput() {
		return 0, 0, false
	}
	return l.OutputShape[1], l.OutputShape[2], true
}

// Walk visits layers depth-first in forward order. Returning false
// from fn stops the walk.
func Walk(layers []LayerInfo, fn func(layer LayerInfo, depth int) bool) bool {
	return walk(layers, 0, fn)
}

func walk(layers []LayerInfo, depth int, fn func(LayerInfo, int) bool) bool {
	for _, l := range layers {
		if !fn(l, depth) {
			return false
		}
		if l.Kind == KindNested && !walk(l.Children, depth+1, fn) {
			return false
		}
	}
	return true
}

// FindLayer looks up a top-level layer by name
func FindLayer(layers []LayerInfo, name string) (LayerInfo, bool) {
	for _, l := range layers {
		if l.Name == name {
			return l, true
		}
	}
	return LayerInfo{}, false
}

// LayerNames returns every layer name, nested ones included
func LayerNames(layers []LayerInfo) []string {
	var names []string
	Walk(layers, func(l LayerInfo, _ int) bool {
		names = append(names, l.Name)
		return true
	})
	return names
}
