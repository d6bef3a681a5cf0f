package gradcam

import "github.com/anime-shed/mri-gradcam-go/internal/model"

// convFinder records whether any convolutional layer was visited,
// descending into nested sub-networks
type convFinder struct {
	found bool
}

func (f *convFinder) VisitConvolutional(model.LayerInfo) { f.found = true }
func (f *convFinder) VisitOther(model.LayerInfo)         {}
func (f *convFinder) VisitNested(l model.LayerInfo) {
	for i := len(l.Children) - 1; i >= 0 && !f.found; i-- {
		l.Children[i].Accept(f)
	}
}

// lastConv remembers the name of every top-level convolutional layer
// it sees, so the last one in forward order wins
type lastConv struct {
	name string
}

func (v *lastConv) VisitConvolutional(l model.LayerInfo) { v.name = l.Name }
func (v *lastConv) VisitNested(model.LayerInfo)          {}
func (v *lastConv) VisitOther(model.LayerInfo)           {}

// LocateTargetLayer picks the layer to explain from. A single nested
// sub-network containing convolutions is targeted as a whole, since its
// inner layers are not outputs of the outer model. Otherwise the last
// top-level convolutional layer is used, and failing that the nearest
// layer before the output whose output is rank 4. The bool is false
// when nothing qualifies.
func LocateTargetLayer(layers []model.LayerInfo) (string, bool) {
	var nested []model.LayerInfo
	for _, l := range layers {
		if l.Kind == model.KindNested {
			nested = append(nested, l)
		}
	}
	if len(nested) == 1 {
		f := &convFinder{}
		nested[0].Accept(f)
		if f.found {
			return nested[0].Name, true
		}
	}

	last := &lastConv{}
	for _, l := range layers {
		l.Accept(last)
	}
	if last.name != "" {
		return last.name, true
	}

	for i := len(layers) - 2; i > 0; i-- {
		if layers[i].HasSpatialOutput() {
			return layers[i].Name, true
		}
	}
	return "", false
}
