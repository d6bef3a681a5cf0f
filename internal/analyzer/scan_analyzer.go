package analyzer

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"sync"

	"github.com/nfnt/resize"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/mri-gradcam-go/internal/logger"
	"github.com/anime-shed/mri-gradcam-go/pkg/validation"
)

// ErrEmptyImage is returned for nil or zero-sized input.
var ErrEmptyImage = errors.New("analyzer: empty image")

type scanAnalyzer struct {
	opts       AnalysisOptions
	workerPool *WorkerPool
	calculator MetricsCalculator
	text       TextDetector
}

// NewScanAnalyzer starts a worker pool and returns an analyzer. text may be
// nil, in which case OCR is skipped even when enabled.
func NewScanAnalyzer(opts AnalysisOptions, text TextDetector) ScanAnalyzer {
	pool := NewWorkerPool(opts.MaxWorkers)
	pool.Start()
	if opts.ThumbnailSize == 0 {
		opts.ThumbnailSize = DefaultOptions().ThumbnailSize
	}
	return &scanAnalyzer{
		opts:       opts,
		workerPool: pool,
		calculator: NewMetricsCalculator(),
		text:       text,
	}
}

// Analyze computes scan metrics on a thumbnail. The checks run on the pool.
func (a *scanAnalyzer) Analyze(ctx context.Context, img image.Image) (validation.ScanMetrics, error) {
	if img == nil || img.Bounds().Empty() {
		return validation.ScanMetrics{}, ErrEmptyImage
	}
	bounds := img.Bounds()

	thumb := resize.Thumbnail(a.opts.ThumbnailSize, a.opts.ThumbnailSize, img, resize.Bilinear)
	gray := image.NewGray(thumb.Bounds())
	draw.Draw(gray, gray.Bounds(), thumb, thumb.Bounds().Min, draw.Src)

	var (
		stats     ScanStatistics
		laplacian float64
		words     int
		ocrDone   bool
	)

	jobs := []func(){
		func() { stats = a.calculator.CalculateScanStatistics(thumb, a.opts.DarkLevel) },
		func() { laplacian = a.calculator.CalculateLaplacianVariance(gray) },
	}
	if a.opts.OCREnabled && a.text != nil {
		jobs = append(jobs, func() {
			n, err := a.text.CountWords(thumb)
			if err != nil {
				logger.WithError(err).Warn("OCR check failed, ignoring text signal")
				return
			}
			words, ocrDone = n, true
		})
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		job := job
		wg.Add(1)
		wrapped := func() {
			defer wg.Done()
			job()
		}
		if !a.workerPool.Submit(wrapped) {
			wrapped()
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return validation.ScanMetrics{}, ctx.Err()
	case <-done:
	}

	metrics := validation.ScanMetrics{
		Width:             bounds.Dx(),
		Height:            bounds.Dy(),
		ChannelImbalance:  stats.ChannelImbalance,
		DarkFraction:      stats.DarkFraction,
		LaplacianVariance: laplacian,
		Brightness:        stats.Brightness,
		TextWords:         words,
		OCRChecked:        ocrDone,
	}

	logger.WithFields(logrus.Fields{
		"width":              metrics.Width,
		"height":             metrics.Height,
		"channel_imbalance":  metrics.ChannelImbalance,
		"dark_fraction":      metrics.DarkFraction,
		"laplacian_variance": metrics.LaplacianVariance,
		"text_words":         metrics.TextWords,
	}).Debug("Scan metrics computed")

	return metrics, nil
}

func (a *scanAnalyzer) Stats() PoolStats {
	return a.workerPool.GetStats()
}

func (a *scanAnalyzer) Close() error {
	a.workerPool.Close()
	return nil
}
