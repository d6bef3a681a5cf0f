package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/anime-shed/mri-gradcam-go/internal/config"
	apperrors "github.com/anime-shed/mri-gradcam-go/internal/errors"
	"github.com/anime-shed/mri-gradcam-go/internal/logger"
	"github.com/anime-shed/mri-gradcam-go/internal/service"
	"github.com/anime-shed/mri-gradcam-go/pkg/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	uploadField     = "file"
)

func NewHandler(svc service.PredictionService, cfg *config.Config) http.Handler {
	gin.SetMode(cfg.GinMode)
	r := gin.New()

	// Add middleware
	r.Use(
		gin.Recovery(),
		requestID(),
		requestLogger(),
		corsMiddleware(cfg.CORSOrigins),
		requestSizeLimiter(cfg.MaxUploadSize),
		requestTimeout(cfg.RequestTimeout),
		errorHandler(),
	)

	// Configure routes
	r.GET("/health", healthCheck(svc))
	r.GET("/readyz", readinessCheck(svc))
	r.POST("/predict", predict(svc))
	r.POST("/gradcam", gradcam(svc))
	r.POST("/subclass_predict", subclassPredict(svc))
	r.GET("/gradcam_heatmap", latestHeatmap(svc))
	r.GET("/gradcam_heatmap/:id", heatmap(svc))
	r.GET("/models/layers", layers(svc))
	r.GET("/history", history(svc))

	return r
}

func predict(svc service.PredictionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		upload, err := readUpload(c)
		if err != nil {
			respondError(c, err)
			return
		}
		resp, err := svc.PredictBinary(c.Request.Context(), upload)
		if err != nil {
			respondError(c, err)
			return
		}
		logger.WithFields(logrus.Fields{
			"file":       upload.Name,
			"prediction": resp.Prediction,
			"confidence": resp.Confidence,
			"source":     resp.GradCAMSource,
		}).Info("Binary prediction completed successfully")
		c.JSON(http.StatusOK, resp)
	}
}

func gradcam(svc service.PredictionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		upload, err := readUpload(c)
		if err != nil {
			respondError(c, err)
			return
		}
		opts := service.GradCAMOptions{Layer: c.PostForm("layer_name")}
		if raw := c.PostForm("class_index"); raw != "" {
			idx, err := strconv.Atoi(raw)
			if err != nil {
				respondError(c, apperrors.NewValidationError("class_index must be an integer", err))
				return
			}
			opts.ClassIndex = &idx
		}
		resp, err := svc.GradCAM(c.Request.Context(), upload, opts)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func subclassPredict(svc service.PredictionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		upload, err := readUpload(c)
		if err != nil {
			respondError(c, err)
			return
		}
		resp, err := svc.PredictSubclass(c.Request.Context(), upload)
		if err != nil {
			if resp != nil {
				respondErrorWithHeatmap(c, err, resp.HeatmapURL)
				return
			}
			respondError(c, err)
			return
		}
		logger.WithFields(logrus.Fields{
			"file":       upload.Name,
			"prediction": resp.Prediction,
			"confidence": resp.Confidence,
			"heatmap_id": resp.HeatmapID,
		}).Info("Subclass prediction completed successfully")
		c.JSON(http.StatusOK, resp)
	}
}

func latestHeatmap(svc service.PredictionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := svc.LatestHeatmap(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/jpeg", data)
	}
}

func heatmap(svc service.PredictionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := svc.Heatmap(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.Data(http.StatusOK, "image/jpeg", data)
	}
}

func layers(svc service.PredictionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Layers())
	}
}

func history(svc service.PredictionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				respondError(c, apperrors.NewValidationError("limit must be a positive integer", err))
				return
			}
			limit = n
		}
		resp, err := svc.History(c.Request.Context(), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func healthCheck(svc service.PredictionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Health())
	}
}

func readinessCheck(svc service.PredictionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		resp := svc.Ready(ctx)
		status := http.StatusOK
		if resp.Status != "ready" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, resp)
	}
}

// readUpload reads the multipart file field into memory
func readUpload(c *gin.Context) (service.Upload, error) {
	header, err := c.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return service.Upload{}, apperrors.NewTooLargeError("File too large", err)
		}
		return service.Upload{}, apperrors.NewInputError("No file part", err)
	}
	if header.Filename == "" {
		return service.Upload{}, apperrors.NewInputError("No selected file", nil)
	}
	f, err := header.Open()
	if err != nil {
		return service.Upload{}, apperrors.NewInputError("Failed to read upload", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return service.Upload{}, apperrors.NewInputError("Failed to read upload", err)
	}
	return service.Upload{Name: header.Filename, Data: data}, nil
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func requestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			if u, err := uuid.NewV4(); err == nil {
				id = u.String()
			}
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		fields := logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"ip":         c.ClientIP(),
			"request_id": c.GetString(requestIDKey),
		}
		logger.WithFields(fields).Debug("Processing request")

		c.Next()

		fields["status"] = c.Writer.Status()
		fields["processing_time_ms"] = time.Since(start).Milliseconds()
		logger.WithFields(fields).Info("Request finished")
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
		}
	}
	if !cfg.AllowAllOrigins {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			respondError(c, c.Errors.Last().Err)
		}
	}
}

func determineStatusCode(err error) int {
	// Check if it's a custom app error first
	if appErr, ok := apperrors.As(err); ok {
		return appErr.StatusCode
	}

	// Fallback to context-based errors
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	respondErrorWithHeatmap(c, err, "")
}

func respondErrorWithHeatmap(c *gin.Context, err error, heatmapURL string) {
	code := determineStatusCode(err)
	body := models.ErrorResponse{
		Success:    false,
		Error:      "Internal server error",
		Message:    http.StatusText(code),
		HeatmapURL: heatmapURL,
		RequestID:  c.GetString(requestIDKey),
	}
	if appErr, ok := apperrors.As(err); ok {
		body.Error = appErr.Message
		body.Details = appErr.Details
	}

	// Log the error with context
	entry := logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
		"request_id":  body.RequestID,
	})
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	c.AbortWithStatusJSON(code, body)
}
