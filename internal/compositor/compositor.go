// Package compositor encodes post-processed overlays into delivery
// images: an inline side-by-side panel and a standalone blended JPEG.
package compositor

import (
	"encoding/base64"
	"fmt"
	"image"
	"image/color"

	"github.com/anime-shed/mri-gradcam-go/internal/heatmap"

	"gocv.io/x/gocv"
)

// Fixed blend weights and layout
const (
	PanelOriginalWeight = 0.7
	PanelHeatmapWeight  = 0.5
	BlendHeatmapWeight  = 0.6
	BlendOriginalWeight = 0.4
	// PanelGap is the white gutter between and around panel images
	PanelGap = 2
)

func overlayMats(o *heatmap.Overlay) (orig, heat gocv.Mat, err error) {
	if o == nil || o.Original == nil || o.Heatmap == nil {
		return gocv.NewMat(), gocv.NewMat(), fmt.Errorf("overlay is incomplete")
	}
	if o.Original.Bounds().Size() != o.Heatmap.Bounds().Size() {
		return gocv.NewMat(), gocv.NewMat(), fmt.Errorf("overlay sizes differ: %v vs %v",
			o.Original.Bounds().Size(), o.Heatmap.Bounds().Size())
	}
	orig, err = heatmap.RGBAToMat(o.Original)
	if err != nil {
		return gocv.NewMat(), gocv.NewMat(), err
	}
	heat, err = heatmap.RGBAToMat(o.Heatmap)
	if err != nil {
		orig.Close()
		return gocv.NewMat(), gocv.NewMat(), err
	}
	return orig, heat, nil
}

// SideBySide places the original next to the original blended with the
// masked heatmap and returns the panel as base64 PNG. Every native
// resource is released before returning, on success or failure.
func SideBySide(o *heatmap.Overlay) (string, error) {
	orig, heat, err := overlayMats(o)
	if err != nil {
		return "", err
	}
	defer orig.Close()
	defer heat.Close()

	blended := gocv.NewMat()
	defer blended.Close()
	gocv.AddWeighted(orig, PanelOriginalWeight, heat, PanelHeatmapWeight, 0, &blended)

	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	left := gocv.NewMat()
	defer left.Close()
	gocv.CopyMakeBorder(orig, &left, PanelGap, PanelGap, PanelGap, 0, gocv.BorderConstant, white)

	right := gocv.NewMat()
	defer right.Close()
	gocv.CopyMakeBorder(blended, &right, PanelGap, PanelGap, PanelGap, PanelGap, gocv.BorderConstant, white)

	panel := gocv.NewMat()
	defer panel.Close()
	gocv.Hconcat(left, right, &panel)

	buf, err := gocv.IMEncode(gocv.PNGFileExt, panel)
	if err != nil {
		return "", fmt.Errorf("failed to encode panel: %w", err)
	}
	defer buf.Close()
	return base64.StdEncoding.EncodeToString(buf.GetBytes()), nil
}

// Blend composites the heatmap over the original and returns a JPEG
func Blend(o *heatmap.Overlay) ([]byte, error) {
	orig, heat, err := overlayMats(o)
	if err != nil {
		return nil, err
	}
	defer orig.Close()
	defer heat.Close()

	blended := gocv.NewMat()
	defer blended.Close()
	gocv.AddWeighted(heat, BlendHeatmapWeight, orig, BlendOriginalWeight, 0, &blended)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, blended)
	if err != nil {
		return nil, fmt.Errorf("failed to encode blended image: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// DecodeInline reverses SideBySide's base64 PNG encoding
func DecodeInline(encoded string) (image.Image, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return DecodeImage(data)
}

// DecodeImage decodes PNG or JPEG bytes through OpenCV into RGBA
func DecodeImage(data []byte) (image.Image, error) {
	m, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer m.Close()
	if m.Empty() {
		return nil, fmt.Errorf("failed to decode image: empty result")
	}
	return heatmap.MatToRGBA(m)
}
