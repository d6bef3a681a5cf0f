package service

import (
	"github.com/anime-shed/mri-gradcam-go/internal/gradcam"
	"github.com/anime-shed/mri-gradcam-go/internal/model"
	"github.com/anime-shed/mri-gradcam-go/internal/repository"
	"github.com/anime-shed/mri-gradcam-go/pkg/models"
)

func describeModel(pipeline repository.Pipeline, h *model.Handle, engine *gradcam.Engine) models.ModelLayers {
	layers := h.Classifier.Layers()
	target, found := gradcam.LocateTargetLayer(layers)

	classes := h.Labels
	if len(classes) == 0 {
		if pipeline == repository.PipelineBinary {
			classes = []string{LabelNonDemented, LabelDemented}
		} else {
			classes = DefaultSubclassLabels
		}
	}
	return models.ModelLayers{
		Pipeline:    string(pipeline),
		Name:        h.Classifier.Name(),
		Source:      h.Source,
		LoadedAt:    h.LoadedAt,
		Classes:     classes,
		Layers:      layerNodes(layers),
		TargetLayer: target,
		TargetFound: found,
		Strategies:  engine.Ladder().Names(),
	}
}

func layerNodes(layers []model.LayerInfo) []models.LayerNode {
	if len(layers) == 0 {
		return nil
	}
	nodes := make([]models.LayerNode, 0, len(layers))
	for _, l := range layers {
		nodes = append(nodes, models.LayerNode{
			Name:        l.Name,
			Kind:        l.Kind.String(),
			OutputShape: l.OutputShape,
			Children:    layerNodes(l.Children),
		})
	}
	return nodes
}
