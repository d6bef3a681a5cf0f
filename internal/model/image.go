package model

import (
	"fmt"
	"image"
)

// ValueRange is the numeric range pixel values are stored in
type ValueRange int

const (
	// RangeUnit holds values in [0,1]
	RangeUnit ValueRange = iota
	// RangeByte holds values in [0,255]
	RangeByte
)

func (r ValueRange) String() string {
	if r == RangeByte {
		return "byte"
	}
	return "unit"
}

// ImageFormat travels with every OriginalImage so consumers never
// have to guess range or channel count from the pixel values.
type ImageFormat struct {
	Range    ValueRange
	Channels int
}

// OriginalImage is the scan at processing resolution, used only for
// display. Pix is row-major and channel-interleaved (RGB when Channels
// is 3).
type OriginalImage struct {
	Format ImageFormat
	Width  int
	Height int
	Pix    []float64
}

// NewOriginalImage allocates a zeroed image in the given format
func NewOriginalImage(width, height int, format ImageFormat) *OriginalImage {
	return &OriginalImage{
		Format: format,
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height*format.Channels),
	}
}

// Validate checks format and pixel buffer consistency
func (o *OriginalImage) Validate() error {
	if o == nil {
		return fmt.Errorf("original image is nil")
	}
	if o.Format.Channels != 1 && o.Format.Channels != 3 {
		return fmt.Errorf("unsupported channel count %d", o.Format.Channels)
	}
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", o.Width, o.Height)
	}
	if len(o.Pix) != o.Width*o.Height*o.Format.Channels {
		return fmt.Errorf("pixel buffer length %d does not match %dx%dx%d",
			len(o.Pix), o.Width, o.Height, o.Format.Channels)
	}
	return nil
}

// Bounds returns the image rectangle
func (o *OriginalImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, o.Width, o.Height)
}

// ToRGB converts to 8-bit three-channel pixels. Unit-range values are
// scaled by 255, byte-range values are only clamped, and single-channel
// images are replicated across R, G and B.
func (o *OriginalImage) ToRGB() []uint8 {
	scale := 1.0
	if o.Format.Range == RangeUnit {
		scale = 255
	}
	out := make([]uint8, o.Width*o.Height*3)
	for i := 0; i < o.Width*o.Height; i++ {
		for c := 0; c < 3; c++ {
			src := c
			if o.Format.Channels == 1 {
				src = 0
			}
			out[i*3+c] = clampByte(o.Pix[i*o.Format.Channels+src] * scale)
		}
	}
	return out
}

// ToGray converts to an 8-bit luminance image
func (o *OriginalImage) ToGray() *image.Gray {
	rgb := o.ToRGB()
	g := image.NewGray(o.Bounds())
	for i := 0; i < o.Width*o.Height; i++ {
		r, gr, b := float64(rgb[i*3]), float64(rgb[i*3+1]), float64(rgb[i*3+2])
		g.Pix[i] = clampByte(0.299*r + 0.587*gr + 0.114*b)
	}
	return g
}

// FromImage samples any image.Image into an 8-bit RGB OriginalImage
func FromImage(img image.Image) *OriginalImage {
	b := img.Bounds()
	o := NewOriginalImage(b.Dx(), b.Dy(), ImageFormat{Range: RangeByte, Channels: 3})
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			o.Pix[i] = float64(r >> 8)
			o.Pix[i+1] = float64(g >> 8)
			o.Pix[i+2] = float64(bl >> 8)
			i += 3
		}
	}
	return o
}

func clampByte(v float64) uint8 {
	switch {
	case v != v, v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
