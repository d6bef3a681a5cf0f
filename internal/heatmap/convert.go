package heatmap

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

func denseToMat(d *mat.Dense) gocv.Mat {
	r, c := d.Dims()
	m := gocv.NewMatWithSize(r, c, gocv.MatTypeCV32F)
	for y := 0; y < r; y++ {
		for x := 0; x < c; x++ {
			m.SetFloatAt(y, x, float32(d.At(y, x)))
		}
	}
	return m
}

func matToDense(m gocv.Mat) *mat.Dense {
	d := mat.NewDense(m.Rows(), m.Cols(), nil)
	for y := 0; y < m.Rows(); y++ {
		for x := 0; x < m.Cols(); x++ {
			d.Set(y, x, float64(m.GetFloatAt(y, x)))
		}
	}
	return d
}

// denseToGrayMat scales a [0,1] map to 8-bit
func denseToGrayMat(d *mat.Dense) gocv.Mat {
	r, c := d.Dims()
	m := gocv.NewMatWithSize(r, c, gocv.MatTypeCV8UC1)
	for y := 0; y < r; y++ {
		for x := 0; x < c; x++ {
			v := d.At(y, x) * 255
			if v > 255 {
				v = 255
			}
			if v < 0 {
				v = 0
			}
			m.SetUCharAt(y, x, uint8(v))
		}
	}
	return m
}

// RGBToMat builds a BGR Mat from packed 8-bit RGB pixels
func RGBToMat(rgb []uint8, width, height int) (gocv.Mat, error) {
	if len(rgb) != width*height*3 {
		return gocv.NewMat(), fmt.Errorf("rgb buffer length %d does not match %dx%d", len(rgb), width, height)
	}
	bgr := make([]byte, len(rgb))
	for i := 0; i < len(rgb); i += 3 {
		bgr[i], bgr[i+1], bgr[i+2] = rgb[i+2], rgb[i+1], rgb[i]
	}
	m, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, bgr)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer m.Close()
	return m.Clone(), nil
}

// RGBAToMat converts an RGBA image into a BGR Mat
func RGBAToMat(img *image.RGBA) (gocv.Mat, error) {
	b := img.Bounds()
	rgb := make([]uint8, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			rgb = append(rgb, row[x*4], row[x*4+1], row[x*4+2])
		}
	}
	return RGBToMat(rgb, b.Dx(), b.Dy())
}

// GrayToMat converts a Gray image into a single-channel Mat
func GrayToMat(img *image.Gray) (gocv.Mat, error) {
	b := img.Bounds()
	buf := make([]byte, 0, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		buf = append(buf, img.Pix[y*img.Stride:y*img.Stride+b.Dx()]...)
	}
	m, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC1, buf)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer m.Close()
	return m.Clone(), nil
}

// MatToRGBA converts a BGR or single-channel 8-bit Mat to RGBA
func MatToRGBA(m gocv.Mat) (*image.RGBA, error) {
	ch := m.Channels()
	if m.Empty() || (ch != 1 && ch != 3) {
		return nil, fmt.Errorf("cannot convert mat with %d channels", ch)
	}
	data := m.ToBytes()
	w, h := m.Cols(), m.Rows()
	if len(data) != w*h*ch {
		return nil, fmt.Errorf("unexpected mat buffer length %d", len(data))
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		if ch == 3 {
			img.Pix[i*4], img.Pix[i*4+1], img.Pix[i*4+2] = data[i*3+2], data[i*3+1], data[i*3]
		} else {
			img.Pix[i*4], img.Pix[i*4+1], img.Pix[i*4+2] = data[i], data[i], data[i]
		}
		img.Pix[i*4+3] = 255
	}
	return img, nil
}

func matToGray(m gocv.Mat) (*image.Gray, error) {
	if m.Empty() || m.Channels() != 1 {
		return nil, fmt.Errorf("expected a single-channel mat")
	}
	img := image.NewGray(image.Rect(0, 0, m.Cols(), m.Rows()))
	copy(img.Pix, m.ToBytes())
	return img, nil
}

func grayMatToDense(m gocv.Mat) *mat.Dense {
	d := mat.NewDense(m.Rows(), m.Cols(), nil)
	for y := 0; y < m.Rows(); y++ {
		for x := 0; x < m.Cols(); x++ {
			d.Set(y, x, float64(m.GetUCharAt(y, x)))
		}
	}
	return d
}
