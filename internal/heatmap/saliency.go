package heatmap

import (
	"image"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// EdgeMagnitude computes sqrt(dx²+dy²) of 3x3 Sobel derivatives over a
// grayscale image, scaled to [0,255]
func EdgeMagnitude(gray8 *image.Gray) (*mat.Dense, error) {
	gray, err := GrayToMat(gray8)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	dx := gocv.NewMat()
	defer dx.Close()
	gocv.Sobel(gray, &dx, gocv.MatTypeCV32F, 1, 0, 3, 1, 0, gocv.BorderDefault)

	dy := gocv.NewMat()
	defer dy.Close()
	gocv.Sobel(gray, &dy, gocv.MatTypeCV32F, 0, 1, 3, 1, 0, gocv.BorderDefault)

	magnitude := gocv.NewMat()
	defer magnitude.Close()
	gocv.Magnitude(dx, dy, &magnitude)

	d := matToDense(magnitude)
	scaleTo255(d)
	return d, nil
}

// CannyEdges returns a 0/255 edge map from the Canny detector
func CannyEdges(gray8 *image.Gray) (*mat.Dense, error) {
	gray, err := GrayToMat(gray8)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 100, 200)
	return grayMatToDense(edges), nil
}

func scaleTo255(d *mat.Dense) {
	lo, hi := math.Inf(1), math.Inf(-1)
	r, c := d.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			lo = math.Min(lo, d.At(i, j))
			hi = math.Max(hi, d.At(i, j))
		}
	}
	d.Apply(func(_, _ int, v float64) float64 {
		return (v - lo) / (hi - lo + Epsilon) * 255
	}, d)
}
