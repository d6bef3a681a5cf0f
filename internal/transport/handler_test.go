package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anime-shed/mri-gradcam-go/internal/config"
	apperrors "github.com/anime-shed/mri-gradcam-go/internal/errors"
	"github.com/anime-shed/mri-gradcam-go/internal/service"
	"github.com/anime-shed/mri-gradcam-go/pkg/models"

	"github.com/gin-gonic/gin"
)

type fakeService struct {
	binaryErr   error
	subclassErr error
	lastUpload  service.Upload
	lastOpts    service.GradCAMOptions
	lastLimit   int
	ready       bool
}

func (f *fakeService) PredictBinary(_ context.Context, u service.Upload) (*models.BinaryPredictionResponse, error) {
	f.lastUpload = u
	if f.binaryErr != nil {
		return nil, f.binaryErr
	}
	return &models.BinaryPredictionResponse{Success: true, Prediction: service.LabelDemented, Confidence: 91.5, IsValidMRI: true}, nil
}

func (f *fakeService) GradCAM(_ context.Context, u service.Upload, opts service.GradCAMOptions) (*models.GradCAMResponse, error) {
	f.lastUpload, f.lastOpts = u, opts
	return &models.GradCAMResponse{Success: true, GradCAMVisualization: "aGVhdA==", GradCAMLayer: opts.Layer}, nil
}

func (f *fakeService) PredictSubclass(_ context.Context, u service.Upload) (*models.SubclassPredictionResponse, error) {
	f.lastUpload = u
	if f.subclassErr != nil {
		return &models.SubclassPredictionResponse{HeatmapURL: service.HeatmapURL}, f.subclassErr
	}
	return &models.SubclassPredictionResponse{Success: true, Prediction: "Strategic Dementia", HeatmapURL: service.HeatmapURL}, nil
}

func (f *fakeService) LatestHeatmap(context.Context) ([]byte, error) {
	return []byte{0xff, 0xd8, 0xff}, nil
}

func (f *fakeService) Heatmap(_ context.Context, id string) ([]byte, error) {
	return nil, apperrors.NewNotFoundError("Heatmap not found or expired", nil)
}

func (f *fakeService) History(_ context.Context, limit int) (*models.HistoryResponse, error) {
	f.lastLimit = limit
	return &models.HistoryResponse{Success: true, Predictions: []models.HistoryEntry{}}, nil
}

func (f *fakeService) Layers() *models.LayersResponse {
	return &models.LayersResponse{Success: true}
}

func (f *fakeService) Health() models.HealthResponse {
	return models.HealthResponse{Status: "healthy", Model: "binary", XAI: "Grad-CAM available"}
}

func (f *fakeService) Ready(context.Context) *models.ReadinessResponse {
	if f.ready {
		return &models.ReadinessResponse{Status: "ready"}
	}
	return &models.ReadinessResponse{Status: "unavailable", Checks: map[string]string{"history": "down"}}
}

func newTestHandler(svc service.PredictionService) http.Handler {
	cfg := &config.Config{
		GinMode:        gin.TestMode,
		MaxUploadSize:  1 << 20,
		RequestTimeout: 5 * time.Second,
		CORSOrigins:    []string{"*"},
	}
	return NewHandler(svc, cfg)
}

func multipartRequest(t *testing.T, path, filename string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		part.Write([]byte("fake image bytes"))
	}
	for k, v := range fields {
		w.WriteField(k, v)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHealthCheck(t *testing.T) {
	handler := newTestHandler(&fakeService{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp models.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" || resp.XAI != "Grad-CAM available" {
		t.Errorf("Unexpected health %+v", resp)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("Expected a request id header")
	}
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		ready  bool
		status int
	}{
		{true, http.StatusOK},
		{false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		handler := newTestHandler(&fakeService{ready: tt.ready})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rec.Code != tt.status {
			t.Errorf("Expected %d, got %d", tt.status, rec.Code)
		}
	}
}

func TestPredict(t *testing.T) {
	svc := &fakeService{}
	handler := newTestHandler(svc)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartRequest(t, "/predict", "scan.png", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.lastUpload.Name != "scan.png" || string(svc.lastUpload.Data) != "fake image bytes" {
		t.Errorf("Unexpected upload %+v", svc.lastUpload)
	}
	var resp models.BinaryPredictionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Prediction != service.LabelDemented || resp.Confidence != 91.5 {
		t.Errorf("Unexpected response %+v", resp)
	}
}

func TestPredict_Errors(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		err      error
		status   int
		message  string
	}{
		{"missing file", "", nil, http.StatusBadRequest, "No file part"},
		{"unsupported", "scan.gif", apperrors.NewUnsupportedError(service.MessageUnsupported, nil), http.StatusUnsupportedMediaType, service.MessageUnsupported},
		{"not an MRI", "cat.png", apperrors.NewValidationError("The uploaded image does not appear to be an MRI scan", nil), http.StatusBadRequest, "The uploaded image does not appear to be an MRI scan"},
		{"model missing", "scan.png", apperrors.NewUnavailableError("Binary model not loaded", nil), http.StatusServiceUnavailable, "Binary model not loaded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestHandler(&fakeService{binaryErr: tt.err})
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, multipartRequest(t, "/predict", tt.filename, nil))

			if rec.Code != tt.status {
				t.Fatalf("Expected %d, got %d", tt.status, rec.Code)
			}
			resp := decodeError(t, rec)
			if resp.Success || resp.Error != tt.message {
				t.Errorf("Expected error %q, got %+v", tt.message, resp)
			}
		})
	}
}

func TestGradCAM_FormFields(t *testing.T) {
	svc := &fakeService{}
	handler := newTestHandler(svc)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartRequest(t, "/gradcam", "scan.png", map[string]string{
		"layer_name":  "conv2d_3",
		"class_index": "0",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if svc.lastOpts.Layer != "conv2d_3" || svc.lastOpts.ClassIndex == nil || *svc.lastOpts.ClassIndex != 0 {
		t.Errorf("Unexpected options %+v", svc.lastOpts)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartRequest(t, "/gradcam", "scan.png", map[string]string{"class_index": "two"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a non-integer class index, got %d", rec.Code)
	}
}

func TestSubclassPredict_ErrorCarriesHeatmapURL(t *testing.T) {
	handler := newTestHandler(&fakeService{subclassErr: apperrors.NewInternalError(service.MessageProcessingError, nil)})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartRequest(t, "/subclass_predict", "scan.png", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.HeatmapURL != service.HeatmapURL || resp.Error != service.MessageProcessingError {
		t.Errorf("Unexpected error body %+v", resp)
	}
}

func TestHeatmapRoutes(t *testing.T) {
	handler := newTestHandler(&fakeService{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gradcam_heatmap", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Errorf("Expected a JPEG, got %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gradcam_heatmap/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestHistoryLimit(t *testing.T) {
	svc := &fakeService{}
	handler := newTestHandler(svc)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history?limit=5", nil))
	if rec.Code != http.StatusOK || svc.lastLimit != 5 {
		t.Errorf("Expected limit 5, got %d (status %d)", svc.lastLimit, rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history?limit=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := newTestHandler(&fakeService{})

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "http://frontend.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Expected wildcard origin, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
