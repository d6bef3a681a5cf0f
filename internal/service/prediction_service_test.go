package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"strings"
	"testing"
	"time"

	apperrors "github.com/anime-shed/mri-gradcam-go/internal/errors"
	"github.com/anime-shed/mri-gradcam-go/internal/model"
	"github.com/anime-shed/mri-gradcam-go/internal/observer"
	"github.com/anime-shed/mri-gradcam-go/internal/repository"
	"github.com/anime-shed/mri-gradcam-go/internal/storage"
	"github.com/anime-shed/mri-gradcam-go/internal/validator"
)

// fakeClassifier returns canned scores and has no gradient support, so
// explanations come from the stand-in ladder
type fakeClassifier struct {
	name   string
	scores []float64
	layers []model.LayerInfo
	output model.OutputContract
}

func (f *fakeClassifier) Name() string                 { return f.name }
func (f *fakeClassifier) Layers() []model.LayerInfo    { return f.layers }
func (f *fakeClassifier) Input() model.InputContract   { return model.InputContract{} }
func (f *fakeClassifier) Output() model.OutputContract { return f.output }
func (f *fakeClassifier) Predict(*model.Tensor) ([]float64, error) {
	return f.scores, nil
}

type fakeValidator struct {
	verdict validator.Verdict
	calls   int
}

func (f *fakeValidator) Validate(context.Context, validator.Upload) validator.Verdict {
	f.calls++
	return f.verdict
}

type testEnv struct {
	svc       PredictionService
	validator *fakeValidator
	history   *repository.MemoryRepository
	metrics   *observer.MetricsObserver
	events    *observer.EventPublisher
}

func newTestEnv(t *testing.T, binary, subclass *fakeClassifier) *testEnv {
	t.Helper()
	store, err := storage.NewFileArtifactStore(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("Failed to create artifact store: %v", err)
	}
	env := &testEnv{
		validator: &fakeValidator{verdict: validator.Verdict{Valid: true, Message: validator.MessageValid}},
		history:   repository.NewMemoryRepository(10),
		metrics:   observer.NewMetricsObserver(),
		events:    observer.NewEventPublisher(),
	}
	env.events.Subscribe(env.metrics)

	deps := Dependencies{
		Binary:        model.NewHolder(model.NewHandle(binary, nil, "memory"), 0),
		Validator:     env.validator,
		ValidatorMode: validator.ModeHeuristic,
		Artifacts:     store,
		History:       env.history,
		Events:        env.events,
		BinarySize:    64,
		SubclassSize:  32,
	}
	if subclass != nil {
		deps.Subclass = model.NewHolder(model.NewHandle(subclass, nil, "memory"), 0)
	}
	env.svc = NewPredictionService(deps)
	return env
}

func scanPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			dx, dy := x-32, y-32
			if dx*dx+dy*dy <= 20*20 {
				img.SetGray(x, y, color.Gray{Y: uint8(80 + (x*y)%120)})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		t.Fatal("Expected an error")
	}
	return apperrors.GetStatusCode(err)
}

func TestPredictBinary_Labels(t *testing.T) {
	tests := []struct {
		name       string
		score      float64
		label      string
		confidence float64
	}{
		{"demented", 0.8, LabelDemented, 80},
		{"non demented", 0.2, LabelNonDemented, 80},
		{"threshold is exclusive", 0.5, LabelNonDemented, 50},
		{"rounded to two decimals", 0.87654, LabelDemented, 87.65},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &fakeClassifier{name: "binary", scores: []float64{tt.score}}, nil)

			resp, err := env.svc.PredictBinary(context.Background(), Upload{Name: "scan.png", Data: scanPNG(t)})
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if resp.Prediction != tt.label {
				t.Errorf("Expected label %s, got %s", tt.label, resp.Prediction)
			}
			if resp.Confidence != tt.confidence {
				t.Errorf("Expected confidence %v, got %v", tt.confidence, resp.Confidence)
			}
			if resp.RawScore != tt.score || !resp.IsValidMRI {
				t.Errorf("Unexpected response %+v", resp)
			}
			if resp.GradCAMVisualization == "" {
				t.Error("Expected an inline visualization")
			}
			if resp.GradCAMSource != "random_grid" || resp.GradCAMError != "" {
				t.Errorf("Expected random grid explanation, got %s (%s)", resp.GradCAMSource, resp.GradCAMError)
			}
		})
	}
}

func TestPredictBinary_RecordsHistoryAndEvents(t *testing.T) {
	env := newTestEnv(t, &fakeClassifier{name: "binary", scores: []float64{0.9}}, nil)

	if _, err := env.svc.PredictBinary(context.Background(), Upload{Name: "scan.png", Data: scanPNG(t)}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	env.events.Flush()

	records, err := env.history.Recent(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Label != LabelDemented || records[0].RawScore == nil {
		t.Errorf("Expected one binary record, got %+v", records)
	}
	metrics := env.metrics.GetMetrics()
	if metrics["successful_predictions"] != int64(1) {
		t.Errorf("Expected one successful prediction, got %v", metrics)
	}
}

func TestPredictBinary_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		upload Upload
		valid  bool
		status int
	}{
		{"missing file", Upload{}, true, http.StatusBadRequest},
		{"unsupported extension", Upload{Name: "scan.gif", Data: []byte("GIF89a")}, true, http.StatusUnsupportedMediaType},
		{"undecodable image", Upload{Name: "scan.png", Data: []byte("not a png")}, true, http.StatusBadRequest},
		{"not an MRI", Upload{Name: "cat.png"}, false, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &fakeClassifier{name: "binary", scores: []float64{0.9}}, nil)
			if !tt.valid {
				env.validator.verdict = validator.Verdict{Valid: false, Message: validator.MessageNotMRI, Reason: "color"}
				tt.upload.Data = scanPNG(t)
			}

			_, err := env.svc.PredictBinary(context.Background(), tt.upload)
			if got := statusOf(t, err); got != tt.status {
				t.Errorf("Expected status %d, got %d (%v)", tt.status, got, err)
			}
			if !tt.valid {
				appErr, _ := apperrors.As(err)
				if appErr.Message != validator.MessageNotMRI || appErr.Details != "color" {
					t.Errorf("Expected the verdict to be returned, got %+v", appErr)
				}
			}
		})
	}
}

func TestPredictBinary_TimedOut(t *testing.T) {
	env := newTestEnv(t, &fakeClassifier{name: "binary", scores: []float64{0.9}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.svc.PredictBinary(ctx, Upload{Name: "scan.png", Data: scanPNG(t)})
	if got := statusOf(t, err); got != http.StatusGatewayTimeout {
		t.Errorf("Expected 504, got %d", got)
	}
}

func TestGradCAM_LayerAndClassChecks(t *testing.T) {
	classifier := &fakeClassifier{
		name:   "binary",
		scores: []float64{0.9},
		output: model.OutputContract{Kind: model.OutputSigmoid, Classes: 1},
		layers: []model.LayerInfo{
			{Name: "block1_conv", Kind: model.KindConvolutional, OutputShape: []int{1, 8, 8, 4}},
			{Name: "dense", OutputShape: []int{1, 1}},
		},
	}
	env := newTestEnv(t, classifier, nil)
	upload := Upload{Name: "scan.png", Data: scanPNG(t)}

	_, err := env.svc.GradCAM(context.Background(), upload, GradCAMOptions{Layer: "block1_conv2"})
	if got := statusOf(t, err); got != http.StatusBadRequest {
		t.Fatalf("Expected 400 for unknown layer, got %d", got)
	}
	appErr, _ := apperrors.As(err)
	if !strings.Contains(appErr.Details, "block1_conv") {
		t.Errorf("Expected a layer suggestion, got %q", appErr.Details)
	}

	bad := 3
	_, err = env.svc.GradCAM(context.Background(), upload, GradCAMOptions{ClassIndex: &bad})
	if got := statusOf(t, err); got != http.StatusBadRequest {
		t.Errorf("Expected 400 for class index, got %d", got)
	}

	resp, err := env.svc.GradCAM(context.Background(), upload, GradCAMOptions{Layer: "block1_conv"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if resp.GradCAMLayer != "block1_conv" || resp.GradCAMVisualization == "" {
		t.Errorf("Unexpected response %+v", resp)
	}
	if len(resp.Attempts) == 0 || resp.Attempts[0].Strategy != "gradcam" {
		t.Errorf("Expected the failed gradcam attempt to be reported, got %+v", resp.Attempts)
	}
}

func TestPredictSubclass(t *testing.T) {
	subclass := &fakeClassifier{
		name:   "subclass",
		scores: []float64{0.1, 0.7, 0.15, 0.05},
		output: model.OutputContract{Kind: model.OutputSoftmax, Classes: 4},
	}
	env := newTestEnv(t, &fakeClassifier{name: "binary", scores: []float64{0.1}}, subclass)
	env.validator.verdict = validator.Verdict{Valid: false}

	resp, err := env.svc.PredictSubclass(context.Background(), Upload{Name: "scan.png", Data: scanPNG(t)})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if env.validator.calls != 0 {
		t.Error("Expected subclass predictions to skip validation")
	}
	if resp.Prediction != "Binswanger Dementia" || resp.Confidence != 70 {
		t.Errorf("Expected Binswanger Dementia at 70, got %s at %v", resp.Prediction, resp.Confidence)
	}
	if resp.ClassProbabilities["Strategic Dementia"] != 15 || len(resp.ClassProbabilities) != 4 {
		t.Errorf("Unexpected probabilities %v", resp.ClassProbabilities)
	}
	if resp.HeatmapURL != HeatmapURL || resp.HeatmapID == "" {
		t.Errorf("Expected a stored heatmap, got %q / %q", resp.HeatmapURL, resp.HeatmapID)
	}

	stored, err := env.svc.Heatmap(context.Background(), resp.HeatmapID)
	if err != nil {
		t.Fatalf("Expected stored heatmap, got %v", err)
	}
	latest, err := env.svc.LatestHeatmap(context.Background())
	if err != nil || !bytes.Equal(stored, latest) {
		t.Error("Expected the latest heatmap to be the stored one")
	}
	if _, err := jpeg.Decode(bytes.NewReader(latest)); err != nil {
		t.Errorf("Expected a JPEG artifact, got %v", err)
	}
}

func TestPredictSubclass_FailureStillCarriesHeatmapURL(t *testing.T) {
	subclass := &fakeClassifier{name: "subclass", scores: []float64{0.25, 0.25, 0.25, 0.25}}
	env := newTestEnv(t, &fakeClassifier{name: "binary", scores: []float64{0.1}}, subclass)

	resp, err := env.svc.PredictSubclass(context.Background(), Upload{Name: "scan.png", Data: []byte("broken")})
	if got := statusOf(t, err); got != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", got)
	}
	if resp == nil || resp.HeatmapURL != HeatmapURL {
		t.Fatalf("Expected heatmap url with the error, got %+v", resp)
	}
	latest, err := env.svc.LatestHeatmap(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(latest)); err != nil {
		t.Errorf("Expected a placeholder JPEG, got %v", err)
	}
}

func TestPredictSubclass_ModelNotLoaded(t *testing.T) {
	env := newTestEnv(t, &fakeClassifier{name: "binary", scores: []float64{0.1}}, nil)

	resp, err := env.svc.PredictSubclass(context.Background(), Upload{Name: "scan.png", Data: scanPNG(t)})
	if got := statusOf(t, err); got != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", got)
	}
	if resp != nil {
		t.Errorf("Expected no response, got %+v", resp)
	}
	if env.svc.Health().SubclassModelLoaded {
		t.Error("Expected health to report the subclass model missing")
	}
}

func TestHeatmaps_Empty(t *testing.T) {
	env := newTestEnv(t, &fakeClassifier{name: "binary", scores: []float64{0.1}}, nil)

	data, err := env.svc.LatestHeatmap(context.Background())
	if err != nil {
		t.Fatalf("Expected placeholder, got %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Expected JPEG placeholder, got %v", err)
	}
	if img.Bounds().Dx() != 32 {
		t.Errorf("Expected placeholder at subclass size, got %v", img.Bounds())
	}

	_, err = env.svc.Heatmap(context.Background(), "00000000-0000-0000-0000-000000000000")
	if got := statusOf(t, err); got != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", got)
	}
}

func TestHistoryLayersHealthReady(t *testing.T) {
	binary := &fakeClassifier{
		name:   "vad-binary",
		scores: []float64{0.7},
		layers: []model.LayerInfo{
			{Name: "conv1", Kind: model.KindConvolutional, OutputShape: []int{1, 8, 8, 4}},
			{Name: "out", OutputShape: []int{1, 1}},
		},
	}
	env := newTestEnv(t, binary, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := env.svc.PredictBinary(ctx, Upload{Name: "scan.png", Data: scanPNG(t)}); err != nil {
			t.Fatal(err)
		}
	}
	history, err := env.svc.History(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(history.Predictions) != 2 || history.Predictions[0].Pipeline != "binary" {
		t.Errorf("Expected two binary entries, got %+v", history.Predictions)
	}

	layers := env.svc.Layers()
	if len(layers.Models) != 1 {
		t.Fatalf("Expected one model, got %d", len(layers.Models))
	}
	m := layers.Models[0]
	if m.TargetLayer != "conv1" || !m.TargetFound || m.Layers[0].Kind != "convolutional" {
		t.Errorf("Unexpected layer description %+v", m)
	}
	if len(m.Strategies) == 0 || m.Strategies[0] != "gradcam" {
		t.Errorf("Expected gradcam first in the ladder, got %v", m.Strategies)
	}

	health := env.svc.Health()
	if health.Status != "healthy" || health.Model != "vad-binary" || health.XAI != "Grad-CAM available" {
		t.Errorf("Unexpected health %+v", health)
	}
	ready := env.svc.Ready(ctx)
	if ready.Status != "ready" || ready.Checks["history"] != "ok" {
		t.Errorf("Unexpected readiness %+v", ready)
	}
}
