package onnx

import "github.com/anime-shed/mri-gradcam-go/internal/model"

// packInput writes an HWC tensor into dst in the given layout.
func packInput(t *model.Tensor, layout string, dst []float32) {
	h, w, c := t.Height, t.Width, t.Channels
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < c; ch++ {
				v := float32(t.Data[(y*w+x)*c+ch])
				if layout == LayoutNCHW {
					dst[(ch*h+y)*w+x] = v
				} else {
					dst[(y*w+x)*c+ch] = v
				}
			}
		}
	}
}

// unpackHWC converts a batch-1 layer output to HWC float64 values.
func unpackHWC(src []float32, layout string, h, w, c int) []float64 {
	out := make([]float64, h*w*c)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < c; ch++ {
				var v float32
				if layout == LayoutNCHW {
					v = src[(ch*h+y)*w+x]
				} else {
					v = src[(y*w+x)*c+ch]
				}
				out[(y*w+x)*c+ch] = float64(v)
			}
		}
	}
	return out
}
