package service

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/anime-shed/mri-gradcam-go/internal/compositor"
	apperrors "github.com/anime-shed/mri-gradcam-go/internal/errors"
	"github.com/anime-shed/mri-gradcam-go/internal/gradcam"
	"github.com/anime-shed/mri-gradcam-go/internal/logger"
	"github.com/anime-shed/mri-gradcam-go/internal/model"
	"github.com/anime-shed/mri-gradcam-go/internal/observer"
	"github.com/anime-shed/mri-gradcam-go/internal/preprocess"
	"github.com/anime-shed/mri-gradcam-go/internal/repository"
	"github.com/anime-shed/mri-gradcam-go/internal/storage"
	"github.com/anime-shed/mri-gradcam-go/internal/validator"
	"github.com/anime-shed/mri-gradcam-go/pkg/models"

	"github.com/sirupsen/logrus"
)

// Labels and messages returned to clients
const (
	LabelDemented    = "VAD-Demented"
	LabelNonDemented = "Non-Demented"

	HeatmapURL = "/gradcam_heatmap"

	MessageUnsupported        = "Unsupported file format. Please upload a JPG, PNG, BMP, TIFF or DICOM file."
	MessageNoFile             = "No file uploaded"
	MessageVisualizationError = "Could not generate visualization"
	MessageProcessingError    = "Error processing image"
	MessageHeatmapUnavailable = "Heatmap unavailable"

	// binaryThreshold splits the sigmoid score into the two labels
	binaryThreshold = 0.5
)

// DefaultSubclassLabels are used when the subclass model carries none
var DefaultSubclassLabels = []string{
	"Hemorrhagic Dementia",
	"Binswanger Dementia",
	"Strategic Dementia",
	"Subcortical Dementia",
}

// Upload is one multipart file
type Upload struct {
	Name string
	Data []byte
}

// GradCAMOptions tune the explanation-only endpoint. Layer overrides the
// located target layer; ClassIndex defaults to 0.
type GradCAMOptions struct {
	Layer      string
	ClassIndex *int
}

// PredictionService classifies uploads and explains the decisions
type PredictionService interface {
	PredictBinary(ctx context.Context, upload Upload) (*models.BinaryPredictionResponse, error)
	GradCAM(ctx context.Context, upload Upload, opts GradCAMOptions) (*models.GradCAMResponse, error)
	// PredictSubclass returns a response carrying HeatmapURL together
	// with the error when processing failed after the upload was accepted.
	PredictSubclass(ctx context.Context, upload Upload) (*models.SubclassPredictionResponse, error)
	LatestHeatmap(ctx context.Context) ([]byte, error)
	Heatmap(ctx context.Context, id string) ([]byte, error)
	History(ctx context.Context, limit int) (*models.HistoryResponse, error)
	Layers() *models.LayersResponse
	Health() models.HealthResponse
	Ready(ctx context.Context) *models.ReadinessResponse
}

// Dependencies are the collaborators of the prediction service. Subclass
// may hold no model; Validator, Artifacts, History and Events are required.
type Dependencies struct {
	Binary         *model.Holder
	Subclass       *model.Holder
	BinaryEngine   *gradcam.Engine
	SubclassEngine *gradcam.Engine
	Validator      validator.Validator
	ValidatorMode  validator.Mode
	Artifacts      storage.ArtifactStore
	History        repository.PredictionRepository
	Events         observer.Subject
	BinarySize     int
	SubclassSize   int
}

type predictionService struct {
	deps Dependencies
}

// NewPredictionService fills in default engines and sizes
func NewPredictionService(deps Dependencies) PredictionService {
	if deps.BinaryEngine == nil {
		deps.BinaryEngine = gradcam.NewEngine(gradcam.BinaryLadder())
	}
	if deps.SubclassEngine == nil {
		deps.SubclassEngine = gradcam.NewEngine(gradcam.SubclassLadder())
	}
	if deps.Subclass == nil {
		deps.Subclass = model.NewHolder(nil, 0)
	}
	if deps.Validator == nil {
		deps.Validator = validator.Disabled{}
		deps.ValidatorMode = validator.ModeOff
	}
	if deps.BinarySize <= 0 {
		deps.BinarySize = 256
	}
	if deps.SubclassSize <= 0 {
		deps.SubclassSize = 128
	}
	return &predictionService{deps: deps}
}

// PredictBinary runs the demented / non-demented classifier and renders
// the inline explanation panel
func (s *predictionService) PredictBinary(ctx context.Context, upload Upload) (*models.BinaryPredictionResponse, error) {
	start := time.Now()
	pipeline := string(repository.PipelineBinary)
	s.publish(ctx, observer.PredictionEvent{EventType: observer.PredictionStarted, Pipeline: pipeline, FileName: upload.Name})

	resp, err := s.predictBinary(ctx, upload)
	if err != nil {
		s.publishFailure(ctx, pipeline, upload.Name, start, err)
		return nil, err
	}
	resp.ProcessingTimeSec = time.Since(start).Seconds()
	s.publish(ctx, observer.PredictionEvent{
		EventType:      observer.PredictionCompleted,
		Pipeline:       pipeline,
		FileName:       upload.Name,
		ProcessingTime: time.Since(start),
		Success:        true,
		Metadata: map[string]interface{}{
			observer.MetaLabel:  resp.Prediction,
			observer.MetaSource: resp.GradCAMSource,
			observer.MetaLayer:  resp.GradCAMLayer,
		},
	})
	return resp, nil
}

func (s *predictionService) predictBinary(ctx context.Context, upload Upload) (*models.BinaryPredictionResponse, error) {
	handle, err := s.binaryHandle()
	if err != nil {
		return nil, err
	}
	prep, err := s.prepare(upload, s.inputSize(handle, s.deps.BinarySize))
	if err != nil {
		return nil, err
	}
	verdict, err := s.validate(ctx, upload, prep)
	if err != nil {
		return nil, err
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	scores, err := handle.Classifier.Predict(prep.Tensor)
	if err != nil {
		return nil, apperrors.NewInternalError("Prediction failed", err)
	}
	score, classIndex, err := binaryScore(scores, handle.Classifier.Output())
	if err != nil {
		return nil, apperrors.NewInternalError("Prediction failed", err)
	}

	label, confidence := LabelNonDemented, (1-score)*100
	if score > binaryThreshold {
		label, confidence = LabelDemented, score*100
	}
	confidence = round2(confidence)

	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	// Binary explanations leave Mask unset so the post-processor derives
	// the opened mask; the closed preprocessing mask is for subclass scans.
	panel, exp := s.deps.BinaryEngine.Inline(gradcam.Input{
		Classifier: handle.Classifier,
		Tensor:     prep.Tensor,
		Original:   prep.Original,
		ClassIndex: classIndex,
	})
	s.publishExplanation(ctx, string(repository.PipelineBinary), upload.Name, exp)

	resp := &models.BinaryPredictionResponse{
		Success:              true,
		Prediction:           label,
		Confidence:           confidence,
		RawScore:             score,
		IsValidMRI:           true,
		ValidationMessage:    verdict.Message,
		GradCAMVisualization: panel,
		GradCAMSource:        exp.Source,
		GradCAMLayer:         exp.Layer,
	}
	if exp.Placeholder() {
		resp.GradCAMError = MessageVisualizationError
	}

	raw := score
	s.record(ctx, &repository.PredictionRecord{
		Pipeline:          repository.PipelineBinary,
		Label:             label,
		Confidence:        confidence,
		RawScore:          &raw,
		ExplanationSource: exp.Source,
	})
	return resp, nil
}

// GradCAM renders the inline panel only, optionally for a chosen layer
// and class
func (s *predictionService) GradCAM(ctx context.Context, upload Upload, opts GradCAMOptions) (*models.GradCAMResponse, error) {
	start := time.Now()
	handle, err := s.binaryHandle()
	if err != nil {
		return nil, err
	}
	layers := handle.Classifier.Layers()
	if opts.Layer != "" {
		if err := checkLayer(layers, opts.Layer); err != nil {
			return nil, err
		}
	}
	classIndex := 0
	if opts.ClassIndex != nil {
		classIndex = *opts.ClassIndex
		if n := classCount(handle.Classifier.Output()); classIndex < 0 || classIndex >= n {
			return nil, apperrors.NewValidationError("class_index out of range", nil).
				WithDetails(rangeDetails(n))
		}
	}

	prep, err := s.prepare(upload, s.inputSize(handle, s.deps.BinarySize))
	if err != nil {
		return nil, err
	}
	if _, err := s.validate(ctx, upload, prep); err != nil {
		return nil, err
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	panel, exp := s.deps.BinaryEngine.Inline(gradcam.Input{
		Classifier: handle.Classifier,
		Tensor:     prep.Tensor,
		Original:   prep.Original,
		Layer:      opts.Layer,
		ClassIndex: classIndex,
	})
	s.publishExplanation(ctx, string(repository.PipelineBinary), upload.Name, exp)

	resp := &models.GradCAMResponse{
		Success:              true,
		GradCAMVisualization: panel,
		GradCAMSource:        exp.Source,
		GradCAMLayer:         exp.Layer,
		ClassIndex:           classIndex,
		ProcessingTimeSec:    time.Since(start).Seconds(),
	}
	for _, a := range exp.Attempts {
		resp.Attempts = append(resp.Attempts, models.ExplanationAttempt{Strategy: a.Strategy, Error: a.Error})
	}
	if exp.Placeholder() {
		resp.GradCAMError = MessageVisualizationError
	}
	return resp, nil
}

// PredictSubclass runs the four-way classifier and stores the blended
// heatmap artifact. Validation is not applied on this pipeline.
func (s *predictionService) PredictSubclass(ctx context.Context, upload Upload) (*models.SubclassPredictionResponse, error) {
	start := time.Now()
	pipeline := string(repository.PipelineSubclass)

	handle := s.deps.Subclass.Load()
	if handle == nil {
		return nil, apperrors.NewUnavailableError("Subclass model not loaded", nil)
	}
	if err := checkUpload(upload); err != nil {
		return nil, err
	}
	s.publish(ctx, observer.PredictionEvent{EventType: observer.PredictionStarted, Pipeline: pipeline, FileName: upload.Name})

	resp, err := s.predictSubclass(ctx, upload, handle)
	if err != nil {
		s.publishFailure(ctx, pipeline, upload.Name, start, err)
		if appErr, ok := apperrors.As(err); ok && appErr.Type == apperrors.ErrorTypeTimeout {
			return nil, err
		}
		return &models.SubclassPredictionResponse{HeatmapURL: s.storeFailure(ctx, handle)}, err
	}
	resp.ProcessingTimeSec = time.Since(start).Seconds()
	s.publish(ctx, observer.PredictionEvent{
		EventType:      observer.PredictionCompleted,
		Pipeline:       pipeline,
		FileName:       upload.Name,
		ProcessingTime: time.Since(start),
		Success:        true,
		Metadata: map[string]interface{}{
			observer.MetaLabel:  resp.Prediction,
			observer.MetaSource: resp.GradCAMSource,
			observer.MetaLayer:  resp.GradCAMLayer,
		},
	})
	return resp, nil
}

func (s *predictionService) predictSubclass(ctx context.Context, upload Upload, handle *model.Handle) (*models.SubclassPredictionResponse, error) {
	prep, err := preprocess.Prepare(upload.Name, upload.Data, s.inputSize(handle, s.deps.SubclassSize))
	if err != nil {
		return nil, apperrors.NewInternalError(MessageProcessingError, err)
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	scores, err := handle.Classifier.Predict(prep.Tensor)
	if err != nil {
		return nil, apperrors.NewInternalError(MessageProcessingError, err)
	}
	if len(scores) == 0 {
		return nil, apperrors.NewInternalError(MessageProcessingError, errors.New("classifier returned no scores"))
	}

	best := model.Argmax(scores)
	labels := handle.Labels
	if len(labels) != len(scores) {
		labels = DefaultSubclassLabels
	}
	probabilities := make(map[string]float64, len(scores))
	for i, p := range scores {
		probabilities[subclassLabel(labels, i)] = round2(p * 100)
	}

	data, exp := s.deps.SubclassEngine.Artifact(gradcam.Input{
		Classifier: handle.Classifier,
		Tensor:     prep.Tensor,
		Original:   prep.Original,
		Mask:       prep.Mask,
		ClassIndex: best,
	})
	s.publishExplanation(ctx, string(repository.PipelineSubclass), upload.Name, exp)

	resp := &models.SubclassPredictionResponse{
		Success:            true,
		Prediction:         subclassLabel(labels, best),
		Confidence:         round2(scores[best] * 100),
		ClassProbabilities: probabilities,
		HeatmapURL:         HeatmapURL,
		GradCAMSource:      exp.Source,
		GradCAMLayer:       exp.Layer,
	}
	if id, err := s.deps.Artifacts.Put(ctx, data); err != nil {
		logger.WithError(err).Error("Failed to store heatmap artifact")
	} else {
		resp.HeatmapID = id
	}

	s.record(ctx, &repository.PredictionRecord{
		Pipeline:          repository.PipelineSubclass,
		Label:             resp.Prediction,
		Confidence:        resp.Confidence,
		Probabilities:     probabilities,
		ExplanationSource: exp.Source,
		ArtifactID:        resp.HeatmapID,
	})
	return resp, nil
}

// storeFailure writes the processing-error placeholder as the latest
// artifact and returns the URL clients poll
func (s *predictionService) storeFailure(ctx context.Context, handle *model.Handle) string {
	size := s.inputSize(handle, s.deps.SubclassSize)
	data, err := compositor.PlaceholderJPEG(MessageProcessingError, size, size)
	if err != nil {
		logger.WithError(err).Error("Failed to render error placeholder")
		return HeatmapURL
	}
	if _, err := s.deps.Artifacts.Put(ctx, data); err != nil {
		logger.WithError(err).Error("Failed to store error placeholder")
	}
	return HeatmapURL
}

// LatestHeatmap returns the most recent artifact, or the unavailable
// placeholder when there is none
func (s *predictionService) LatestHeatmap(ctx context.Context) ([]byte, error) {
	data, err := s.deps.Artifacts.Latest(ctx)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, storage.ErrArtifactNotFound) {
		logger.WithError(err).Warn("Failed to read latest heatmap, serving placeholder")
	}
	data, err = compositor.PlaceholderJPEG(MessageHeatmapUnavailable, s.deps.SubclassSize, s.deps.SubclassSize)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to render placeholder", err)
	}
	return data, nil
}

// Heatmap returns one stored artifact
func (s *predictionService) Heatmap(ctx context.Context, id string) ([]byte, error) {
	data, err := s.deps.Artifacts.Get(ctx, id)
	if errors.Is(err, storage.ErrArtifactNotFound) {
		return nil, apperrors.NewNotFoundError("Heatmap not found or expired", err)
	}
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to read heatmap", err)
	}
	return data, nil
}

// History returns recent predictions, newest first
func (s *predictionService) History(ctx context.Context, limit int) (*models.HistoryResponse, error) {
	records, err := s.deps.History.Recent(ctx, repository.ClampLimit(limit))
	if err != nil {
		return nil, apperrors.NewUnavailableError("Prediction history unavailable", err)
	}
	resp := &models.HistoryResponse{Success: true, Predictions: make([]models.HistoryEntry, 0, len(records))}
	for _, r := range records {
		entry := models.HistoryEntry{
			ID:                 r.ID,
			Pipeline:           string(r.Pipeline),
			Prediction:         r.Label,
			Confidence:         r.Confidence,
			RawScore:           r.RawScore,
			ClassProbabilities: r.Probabilities,
			ExplanationSource:  r.ExplanationSource,
			CreatedAt:          r.CreatedAt,
		}
		if r.ArtifactID != "" {
			entry.HeatmapURL = HeatmapURL + "/" + r.ArtifactID
		}
		resp.Predictions = append(resp.Predictions, entry)
	}
	return resp, nil
}

// Layers describes every loaded model and the layer the locator picks
func (s *predictionService) Layers() *models.LayersResponse {
	resp := &models.LayersResponse{Success: true}
	if h := s.deps.Binary.Load(); h != nil {
		resp.Models = append(resp.Models, describeModel(repository.PipelineBinary, h, s.deps.BinaryEngine))
	}
	if h := s.deps.Subclass.Load(); h != nil {
		resp.Models = append(resp.Models, describeModel(repository.PipelineSubclass, h, s.deps.SubclassEngine))
	}
	return resp
}

// Health reports liveness
func (s *predictionService) Health() models.HealthResponse {
	name := ""
	if h := s.deps.Binary.Load(); h != nil {
		name = h.Classifier.Name()
	}
	return models.HealthResponse{
		Status:              "healthy",
		Model:               name,
		XAI:                 "Grad-CAM available",
		SubclassModelLoaded: s.deps.Subclass.Load() != nil,
		Validator:           string(s.deps.ValidatorMode),
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ready checks the binary model, history and artifact store
func (s *predictionService) Ready(ctx context.Context) *models.ReadinessResponse {
	resp := &models.ReadinessResponse{Status: "ready", Checks: map[string]string{}}
	check := func(name string, err error) {
		if err != nil {
			resp.Status = "unavailable"
			resp.Checks[name] = err.Error()
			return
		}
		resp.Checks[name] = "ok"
	}

	if s.deps.Binary.Load() == nil {
		check("binary_model", errors.New("not loaded"))
	} else {
		check("binary_model", nil)
	}
	check("history", s.deps.History.Ping(ctx))
	if p, ok := s.deps.Artifacts.(pinger); ok {
		check("artifacts", p.Ping(ctx))
	}
	return resp
}

func (s *predictionService) binaryHandle() (*model.Handle, error) {
	handle := s.deps.Binary.Load()
	if handle == nil {
		return nil, apperrors.NewUnavailableError("Binary model not loaded", nil)
	}
	return handle, nil
}

// inputSize prefers the classifier's own contract over the configured size
func (s *predictionService) inputSize(handle *model.Handle, configured int) int {
	in := handle.Classifier.Input()
	if in.Height > 0 && in.Height == in.Width && in.Height != configured {
		logger.WithFields(logrus.Fields{
			"model":      handle.Classifier.Name(),
			"configured": configured,
			"expected":   in.Height,
		}).Debug("Using classifier input size")
		return in.Height
	}
	return configured
}

func (s *predictionService) prepare(upload Upload, size int) (*preprocess.Result, error) {
	if err := checkUpload(upload); err != nil {
		return nil, err
	}
	prep, err := preprocess.Prepare(upload.Name, upload.Data, size)
	if err != nil {
		if errors.Is(err, preprocess.ErrUnsupportedFormat) {
			return nil, apperrors.NewUnsupportedError(MessageUnsupported, err)
		}
		return nil, apperrors.NewInputError(MessageProcessingError, err)
	}
	return prep, nil
}

// validate applies the plausibility check to everything but DICOM
func (s *predictionService) validate(ctx context.Context, upload Upload, prep *preprocess.Result) (validator.Verdict, error) {
	if preprocess.IsDICOM(upload.Name) {
		return validator.Verdict{Valid: true, Message: validator.MessageValid}, nil
	}
	verdict := s.deps.Validator.Validate(ctx, validator.Upload{Name: upload.Name, Data: upload.Data, Image: prep.Source})
	if verdict.Valid {
		return verdict, nil
	}
	s.publish(ctx, observer.PredictionEvent{
		EventType:    observer.ScanRejected,
		Pipeline:     string(repository.PipelineBinary),
		FileName:     upload.Name,
		ErrorMessage: verdict.Message,
		Metadata:     map[string]interface{}{"reason": verdict.Reason},
	})
	return verdict, apperrors.NewValidationError(verdict.Message, nil).WithDetails(verdict.Reason)
}

func (s *predictionService) record(ctx context.Context, rec *repository.PredictionRecord) {
	if err := s.deps.History.Save(ctx, rec); err != nil {
		logger.WithError(err).WithField("pipeline", rec.Pipeline).Warn("Failed to store prediction history")
	}
}

func (s *predictionService) publish(ctx context.Context, event observer.PredictionEvent) {
	if s.deps.Events == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.deps.Events.NotifyObservers(ctx, event)
}

func (s *predictionService) publishFailure(ctx context.Context, pipeline, name string, start time.Time, err error) {
	s.publish(ctx, observer.PredictionEvent{
		EventType:      observer.PredictionFailed,
		Pipeline:       pipeline,
		FileName:       name,
		ProcessingTime: time.Since(start),
		ErrorMessage:   err.Error(),
		Metadata:       map[string]interface{}{observer.MetaStatusCode: apperrors.GetStatusCode(err)},
	})
}

// publishExplanation reports fallbacks and placeholders
func (s *predictionService) publishExplanation(ctx context.Context, pipeline, name string, exp *gradcam.Explanation) {
	meta := map[string]interface{}{observer.MetaSource: exp.Source, observer.MetaLayer: exp.Layer}
	switch {
	case exp.Placeholder():
		msg := "no heatmap could be rendered"
		if exp.Err != nil {
			msg = exp.Err.Error()
		}
		s.publish(ctx, observer.PredictionEvent{
			EventType:    observer.ExplanationUnavailable,
			Pipeline:     pipeline,
			FileName:     name,
			ErrorMessage: msg,
			Metadata:     meta,
		})
	case len(exp.Attempts) > 0:
		s.publish(ctx, observer.PredictionEvent{
			EventType:    observer.ExplanationDegraded,
			Pipeline:     pipeline,
			FileName:     name,
			ErrorMessage: exp.Attempts[len(exp.Attempts)-1].Error,
			Metadata:     meta,
		})
	}
}

func checkUpload(upload Upload) error {
	if upload.Name == "" || len(upload.Data) == 0 {
		return apperrors.NewInputError(MessageNoFile, nil)
	}
	if !preprocess.Supported(upload.Name) {
		return apperrors.NewUnsupportedError(MessageUnsupported, nil).WithDetails(preprocess.Extension(upload.Name))
	}
	return nil
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewTimeoutError("Request timed out", err)
	}
	return nil
}

// checkLayer rejects names the model does not have, with a suggestion
func checkLayer(layers []model.LayerInfo, name string) error {
	for _, n := range model.LayerNames(layers) {
		if n == name {
			return nil
		}
	}
	err := apperrors.NewValidationError("Unknown layer: "+name, nil)
	if suggestion := model.SuggestLayer(layers, name); suggestion != "" {
		return err.WithDetails("did you mean " + suggestion + "?")
	}
	return err
}

// binaryScore returns the positive-class probability and the class index
// to explain
func binaryScore(scores []float64, out model.OutputContract) (float64, int, error) {
	switch {
	case len(scores) == 0:
		return 0, 0, errors.New("classifier returned no scores")
	case out.Kind == model.OutputSoftmax && len(scores) >= 2:
		return scores[1], model.Argmax(scores), nil
	default:
		return scores[0], 0, nil
	}
}

func classCount(out model.OutputContract) int {
	if out.Classes < 1 {
		return 1
	}
	return out.Classes
}

func rangeDetails(n int) string {
	if n == 1 {
		return "only class 0 is available"
	}
	return "valid range is 0.." + strconv.Itoa(n-1)
}

func subclassLabel(labels []string, i int) string {
	if i >= 0 && i < len(labels) {
		return labels[i]
	}
	return "class_" + strconv.Itoa(i)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
