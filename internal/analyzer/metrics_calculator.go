package analyzer

import (
	"image"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// ScanStatistics are the colour and intensity measurements of one image.
type ScanStatistics struct {
	ChannelImbalance float64 // mean pairwise channel difference, 0..1
	DarkFraction     float64
	Brightness       float64 // mean luma, 0..255
}

type metricsCalculator struct {
	slicePool sync.Pool
}

// NewMetricsCalculator creates a new metrics calculator using Gonum
func NewMetricsCalculator() MetricsCalculator {
	return &metricsCalculator{
		slicePool: sync.Pool{
			New: func() interface{} {
				return make([]float64, 0, 1024)
			},
		},
	}
}

// CalculateScanStatistics processes the image in horizontal strips in parallel.
func (mc *metricsCalculator) CalculateScanStatistics(img image.Image, darkLevel float64) ScanStatistics {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width == 0 || height == 0 {
		return ScanStatistics{}
	}

	numWorkers := runtime.NumCPU()
	if height < numWorkers {
		numWorkers = height
	}
	rowsPerWorker := (height + numWorkers - 1) / numWorkers // ceil division

	type regionResult struct {
		imbalance, luma float64
		dark, pixels    int
	}

	results := make(chan regionResult, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		startY := bounds.Min.Y + i*rowsPerWorker
		endY := startY + rowsPerWorker
		if i == numWorkers-1 || endY > bounds.Max.Y {
			endY = bounds.Max.Y
		}
		if startY >= endY {
			continue
		}
		wg.Add(1)
		go func(startY, endY int) {
			defer wg.Done()

			var r regionResult
			for y := startY; y < endY; y++ {
				for x := bounds.Min.X; x < bounds.Max.X; x++ {
					rv, gv, bv, _ := img.At(x, y).RGBA()
					rf := float64(rv) / 65535.0
					gf := float64(gv) / 65535.0
					bf := float64(bv) / 65535.0

					r.imbalance += (math.Abs(rf-gf) + math.Abs(gf-bf) + math.Abs(rf-bf)) / 3
					luma := (0.299*rf + 0.587*gf + 0.114*bf) * 255
					r.luma += luma
					if luma < darkLevel {
						r.dark++
					}
					r.pixels++
				}
			}
			results <- r
		}(startY, endY)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var total regionResult
	for r := range results {
		total.imbalance += r.imbalance
		total.luma += r.luma
		total.dark += r.dark
		total.pixels += r.pixels
	}

	if total.pixels == 0 {
		return ScanStatistics{}
	}

	n := float64(total.pixels)
	return ScanStatistics{
		ChannelImbalance: total.imbalance / n,
		DarkFraction:     float64(total.dark) / n,
		Brightness:       total.luma / n,
	}
}

// CalculateLaplacianVariance computes Laplacian variance using Gonum operations
func (mc *metricsCalculator) CalculateLaplacianVariance(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < 3 || height < 3 {
		return 0
	}

	data := mc.slicePool.Get().([]float64)
	defer func() { mc.slicePool.Put(data[:0]) }()

	if cap(data) < (width-2)*(height-2) {
		data = make([]float64, 0, (width-2)*(height-2))
	}

	// Laplacian kernel: [0, 1, 0; 1, -4, 1; 0, 1, 0]
	for y := bounds.Min.Y + 1; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X + 1; x < bounds.Max.X-1; x++ {
			center := float64(gray.GrayAt(x, y).Y)
			top := float64(gray.GrayAt(x, y-1).Y)
			bottom := float64(gray.GrayAt(x, y+1).Y)
			left := float64(gray.GrayAt(x-1, y).Y)
			right := float64(gray.GrayAt(x+1, y).Y)

			data = append(data, -4*center+top+bottom+left+right)
		}
	}

	return stat.Variance(data, nil)
}
