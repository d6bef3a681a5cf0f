package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anime-shed/mri-gradcam-go/internal/analyzer"
	"github.com/anime-shed/mri-gradcam-go/internal/config"
	"github.com/anime-shed/mri-gradcam-go/internal/factory"
	"github.com/anime-shed/mri-gradcam-go/internal/logger"
	"github.com/anime-shed/mri-gradcam-go/internal/model"
	"github.com/anime-shed/mri-gradcam-go/internal/observer"
	"github.com/anime-shed/mri-gradcam-go/internal/repository"
	"github.com/anime-shed/mri-gradcam-go/internal/service"
	"github.com/anime-shed/mri-gradcam-go/internal/storage"
	"github.com/anime-shed/mri-gradcam-go/internal/transport"
	"github.com/anime-shed/mri-gradcam-go/internal/validator"
	"github.com/anime-shed/mri-gradcam-go/pkg/validation"

	"github.com/sirupsen/logrus"
)

// Container holds all application dependencies
type Container struct {
	config            *config.Config
	components        *factory.ComponentFactory
	binary            *model.Holder
	subclass          *model.Holder
	scanAnalyzer      analyzer.ScanAnalyzer
	artifacts         storage.ArtifactStore
	history           repository.PredictionRepository
	events            *observer.EventPublisher
	metrics           *observer.MetricsObserver
	predictionService service.PredictionService
	handler           http.Handler
	closers           []func() error
}

// NewContainer creates a new dependency injection container. A binary
// model that fails to load is fatal; a missing subclass model only
// disables that pipeline.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	logger.SetLevel(cfg.LogLevel)
	c := &Container{config: cfg}

	storageType := factory.StorageType(cfg.ModelSource)
	components, err := factory.NewComponentFactory(
		factory.NewStorageFactory(cfg.ModelFetchTimeout, cfg.AzureAccount, cfg.AzureKey, cfg.AzureContainer),
		storageType, cfg.ModelCacheDir, cfg.ONNXLibraryPath,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create model factory: %w", err)
	}
	c.components = components

	binary, err := components.ClassifierFactory.CreateClassifier(ctx, cfg.BinaryModel())
	if err != nil {
		return nil, fmt.Errorf("failed to load binary model: %w", err)
	}
	c.binary = model.NewHolder(binary, cfg.ModelRetireTimeout)
	c.subclass = model.NewHolder(c.loadSubclass(ctx), cfg.ModelRetireTimeout)

	if err := c.buildStores(ctx); err != nil {
		c.Close()
		return nil, err
	}
	c.buildObservers()

	c.predictionService = service.NewPredictionService(service.Dependencies{
		Binary:        c.binary,
		Subclass:      c.subclass,
		Validator:     c.buildValidator(),
		ValidatorMode: cfg.ValidatorMode,
		Artifacts:     c.artifacts,
		History:       c.history,
		Events:        c.events,
		BinarySize:    cfg.BinaryImageSize,
		SubclassSize:  cfg.SubclassImageSize,
	})
	c.handler = transport.NewHandler(c.predictionService, cfg)
	return c, nil
}

func (c *Container) loadSubclass(ctx context.Context) *model.Handle {
	source := c.config.SubclassModel()
	if source == "" {
		logger.Warn("No subclass model configured, /subclass_predict is disabled")
		return nil
	}
	h, err := c.components.ClassifierFactory.CreateClassifier(ctx, source)
	if err != nil {
		logger.WithError(err).WithField("source", source).Error("Failed to load subclass model, /subclass_predict is disabled")
		return nil
	}
	return h
}

func (c *Container) buildStores(ctx context.Context) error {
	cfg := c.config
	if cfg.RedisAddress != "" {
		redisStore := storage.NewRedisArtifactStore(cfg.RedisAddress, cfg.RedisMaxConnections, cfg.ArtifactTTL)
		if err := redisStore.Ping(ctx); err != nil {
			logger.WithError(err).WithField("address", cfg.RedisAddress).Warn("Redis not reachable yet, heatmaps will fail until it is")
		}
		c.artifacts = redisStore
		c.closers = append(c.closers, redisStore.Close)
	} else {
		fileStore, err := storage.NewFileArtifactStore(cfg.ArtifactDir, cfg.ArtifactTTL)
		if err != nil {
			return fmt.Errorf("failed to create artifact store: %w", err)
		}
		c.artifacts = fileStore
	}

	if cfg.EnableDB {
		pg, err := repository.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		c.history = pg
	} else {
		c.history = repository.NewMemoryRepository(cfg.HistorySize)
	}
	c.closers = append(c.closers, func() error {
		c.history.Close()
		return nil
	})
	return nil
}

func (c *Container) buildObservers() {
	c.events = observer.NewEventPublisher()
	c.metrics = observer.NewMetricsObserver()
	c.events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	c.events.Subscribe(c.metrics)

	if c.config.SentryDSN == "" {
		return
	}
	client, err := observer.NewSentryClient(c.config.SentryDSN, c.config.SentryEnvironment)
	if err != nil {
		logger.WithError(err).Warn("Sentry disabled")
		return
	}
	c.events.Subscribe(observer.NewSentryObserver(client))
	c.closers = append(c.closers, func() error {
		client.Close()
		return nil
	})
}

func (c *Container) buildValidator() validator.Validator {
	cfg := c.config
	switch cfg.ValidatorMode {
	case validator.ModeRemote:
		return validator.NewRemoteValidator(cfg.ValidatorURL, cfg.ValidatorModelID, cfg.ValidatorAPIKey, cfg.ValidatorTimeout)
	case validator.ModeOff:
		return validator.Disabled{}
	}

	opts := analyzer.DefaultOptions().WithWorkers(cfg.ValidatorWorkers)
	var text analyzer.TextDetector
	if cfg.ValidatorOCR {
		opts = opts.WithOCR("eng")
		text = analyzer.NewTesseractDetector(opts.OCRLanguage)
	}
	c.scanAnalyzer = analyzer.NewScanAnalyzer(opts, text)
	c.closers = append(c.closers, c.scanAnalyzer.Close)
	return validator.NewHeuristicValidator(c.scanAnalyzer, validation.NewScanValidator())
}

// Reload loads both models again and swaps them in. The binary model
// keeps its old handle when the new one fails to load.
func (c *Container) Reload(ctx context.Context) error {
	binary, err := c.components.ClassifierFactory.CreateClassifier(ctx, c.config.BinaryModel())
	if err != nil {
		return fmt.Errorf("reload binary model: %w", err)
	}
	c.binary.Swap(binary)

	if subclass := c.loadSubclass(ctx); subclass != nil {
		c.subclass.Swap(subclass)
	}
	logger.WithFields(logrus.Fields{
		"binary":   binary.Source,
		"subclass": c.subclass.Load() != nil,
	}).Info("Models reloaded")
	return nil
}

// Close flushes pending events and releases stores, pools and models
func (c *Container) Close() error {
	if c.events != nil {
		c.events.Flush()
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	for _, holder := range []*model.Holder{c.binary, c.subclass} {
		if holder == nil {
			continue
		}
		if h := holder.Load(); h != nil {
			if err := h.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Metrics returns the request metrics collected so far
func (c *Container) Metrics() map[string]interface{} {
	return c.metrics.GetMetrics()
}
