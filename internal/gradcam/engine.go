// Package gradcam explains classifier decisions with gradient-weighted
// class activation maps and a ladder of stand-in heatmaps.
package gradcam

import (
	"image"

	"github.com/anime-shed/mri-gradcam-go/internal/compositor"
	"github.com/anime-shed/mri-gradcam-go/internal/heatmap"
	"github.com/anime-shed/mri-gradcam-go/internal/logger"
	"github.com/anime-shed/mri-gradcam-go/internal/model"

	"github.com/sirupsen/logrus"
)

// Captions drawn on placeholder artifacts
const (
	InlineUnavailableCaption = "Grad-CAM unavailable"
	ArtifactErrorCaption     = "Error generating heatmap"
)

// Input is one explanation request. Layer overrides the located target
// layer when set.
type Input struct {
	Classifier model.Classifier
	Tensor     *model.Tensor
	Original   *model.OriginalImage
	Mask       *image.Gray
	Layer      string
	ClassIndex int
}

// Explanation is what the engine produced. Overlay is nil only when the
// placeholder had to be used.
type Explanation struct {
	Overlay  *heatmap.Overlay
	Source   string
	Layer    string
	Attempts []Attempt
	Err      error
}

// Placeholder reports whether no heatmap could be rendered
func (e *Explanation) Placeholder() bool {
	return e.Overlay == nil
}

// Engine locates, computes, falls back and post-processes
type Engine struct {
	ladder *Ladder
}

func NewEngine(ladder *Ladder) *Engine {
	return &Engine{ladder: ladder}
}

// Ladder returns the engine's strategy ladder
func (e *Engine) Ladder() *Ladder {
	return e.ladder
}

// Explain never returns nil and never panics
func (e *Engine) Explain(in Input) (exp *Explanation) {
	exp = &Explanation{}
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Explanation engine panicked, using placeholder")
			exp.Overlay = nil
		}
	}()

	layer := in.Layer
	if layer == "" && in.Classifier != nil {
		layer, _ = LocateTargetLayer(in.Classifier.Layers())
	}
	exp.Layer = layer

	req := &Request{
		Classifier: in.Classifier,
		Input:      in.Tensor,
		Original:   in.Original,
		Mask:       in.Mask,
		Layer:      layer,
		ClassIndex: in.ClassIndex,
	}
	result := e.ladder.Run(req)
	exp.Source = result.Source
	exp.Attempts = result.Attempts

	overlay, err := heatmap.PostProcess(result.Raw, in.Original, in.Mask)
	if err != nil && result.Source != (CannyEdges{}).Name() {
		exp.Attempts = append(exp.Attempts, Attempt{Strategy: "postprocess:" + result.Source, Error: err.Error()})
		logger.WithError(err).WithField("strategy", result.Source).Warn("Post-processing failed, trying edge map")
		if raw, cerr := safeGenerate(CannyEdges{}, req, err); cerr == nil {
			exp.Source = (CannyEdges{}).Name()
			overlay, err = heatmap.PostProcess(raw, in.Original, in.Mask)
		}
	}
	if err != nil {
		exp.Err = err
		logger.WithError(err).WithFields(logrus.Fields{
			"strategy": exp.Source,
			"layer":    layer,
		}).Error("Post-processing failed, using placeholder")
		return exp
	}
	exp.Overlay = overlay
	return exp
}

// Inline renders the side-by-side panel as base64 PNG. The placeholder
// caption image is returned when no overlay could be built.
func (e *Engine) Inline(in Input) (string, *Explanation) {
	exp := e.Explain(in)
	if !exp.Placeholder() {
		encoded, err := compositor.SideBySide(exp.Overlay)
		if err == nil {
			return encoded, exp
		}
		exp.Err = err
		logger.WithError(err).Error("Failed to compose side-by-side panel")
	}
	w, h := placeholderSize(in.Original)
	encoded, err := compositor.PlaceholderPNGBase64(InlineUnavailableCaption, w, h)
	if err != nil {
		return "", exp
	}
	return encoded, exp
}

// Artifact renders the single blended JPEG, or a captioned placeholder
func (e *Engine) Artifact(in Input) ([]byte, *Explanation) {
	exp := e.Explain(in)
	if !exp.Placeholder() {
		data, err := compositor.Blend(exp.Overlay)
		if err == nil {
			return data, exp
		}
		exp.Err = err
		logger.WithError(err).Error("Failed to compose blended artifact")
	}
	w, h := placeholderSize(in.Original)
	data, err := compositor.PlaceholderJPEG(ArtifactErrorCaption, w, h)
	if err != nil {
		return nil, exp
	}
	return data, exp
}

func placeholderSize(o *model.OriginalImage) (int, int) {
	if o != nil && o.Width > 0 && o.Height > 0 {
		return o.Width, o.Height
	}
	return compositor.PlaceholderSize, compositor.PlaceholderSize
}
