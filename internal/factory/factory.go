package factory

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/anime-shed/mri-gradcam-go/internal/logger"
	"github.com/anime-shed/mri-gradcam-go/internal/model"
	"github.com/anime-shed/mri-gradcam-go/internal/network"
	"github.com/anime-shed/mri-gradcam-go/internal/onnx"
	"github.com/anime-shed/mri-gradcam-go/internal/storage"

	"github.com/sirupsen/logrus"
)

// BackendType represents the classifier runtimes
type BackendType string

const (
	// NetworkBackend for pure-Go JSON weights documents
	NetworkBackend BackendType = "network"
	// ONNXBackend for onnxruntime models with a sibling metadata file
	ONNXBackend BackendType = "onnx"
)

// StorageType represents the places remote models come from
type StorageType string

const (
	// HTTPStorage for HTTP(S) URLs
	HTTPStorage StorageType = "http"
	// AzureStorage for blobs in one Azure container
	AzureStorage StorageType = "azure"
	// LocalStorage for paths on disk only
	LocalStorage StorageType = "local"
)

// metaSuffix names the metadata file next to an ONNX model
const metaSuffix = ".meta.json"

// BackendFor picks the runtime from a path or URL extension
func BackendFor(source string) (BackendType, error) {
	p := source
	if u, err := url.Parse(source); err == nil && u.Scheme != "" && u.Host != "" {
		p = u.Path
	}
	switch ext := strings.ToLower(path.Ext(p)); ext {
	case ".json":
		return NetworkBackend, nil
	case ".onnx":
		return ONNXBackend, nil
	default:
		return "", fmt.Errorf("unsupported model format %q (want .json or .onnx)", ext)
	}
}

// ClassifierFactory loads classifiers into handles
type ClassifierFactory interface {
	CreateClassifier(ctx context.Context, source string) (*model.Handle, error)
}

// StorageFactory creates model fetchers
type StorageFactory interface {
	CreateStorage(storageType StorageType) (storage.ModelFetcher, error)
}

// classifierFactory implements ClassifierFactory
type classifierFactory struct {
	cache       *storage.ModelCache
	onnxLibrary string
}

// NewClassifierFactory resolves remote sources through cache
func NewClassifierFactory(cache *storage.ModelCache, onnxLibrary string) ClassifierFactory {
	return &classifierFactory{cache: cache, onnxLibrary: onnxLibrary}
}

// CreateClassifier downloads the model if needed and opens it with the
// backend its extension names
func (f *classifierFactory) CreateClassifier(ctx context.Context, source string) (*model.Handle, error) {
	backend, err := BackendFor(source)
	if err != nil {
		return nil, err
	}
	local, err := f.cache.EnsureLocal(ctx, source)
	if err != nil {
		return nil, err
	}

	var (
		classifier model.Classifier
		labels     []string
	)
	switch backend {
	case NetworkBackend:
		net, classes, err := network.LoadFile(local)
		if err != nil {
			return nil, err
		}
		classifier, labels = net, classes
	case ONNXBackend:
		meta, err := f.cache.EnsureLocal(ctx, storage.SiblingSource(source, metaSuffix))
		if err != nil {
			return nil, fmt.Errorf("model metadata: %w", err)
		}
		c, err := onnx.Open(local, meta, f.onnxLibrary)
		if err != nil {
			return nil, err
		}
		classifier, labels = c, c.Labels()
	}

	logger.WithFields(logrus.Fields{
		"model":   classifier.Name(),
		"backend": backend,
		"source":  source,
		"layers":  len(classifier.Layers()),
		"classes": classifier.Output().Classes,
	}).Info("Classifier loaded")
	return model.NewHandle(classifier, labels, source), nil
}

// storageFactory implements StorageFactory
type storageFactory struct {
	timeout        time.Duration
	azureAccount   string
	azureKey       string
	azureContainer string
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(timeout time.Duration, azureAccount, azureKey, azureContainer string) StorageFactory {
	return &storageFactory{
		timeout:        timeout,
		azureAccount:   azureAccount,
		azureKey:       azureKey,
		azureContainer: azureContainer,
	}
}

// CreateStorage creates a fetcher based on the specified type. Local
// storage has no fetcher.
func (f *storageFactory) CreateStorage(storageType StorageType) (storage.ModelFetcher, error) {
	switch storageType {
	case HTTPStorage:
		return storage.NewHTTPModelFetcher(f.timeout), nil
	case AzureStorage:
		fetcher, err := storage.NewAzureModelFetcher(f.azureAccount, f.azureKey, f.azureContainer)
		if err != nil {
			return nil, err
		}
		return fetcher, nil
	case LocalStorage:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// ComponentFactory combines all factories
type ComponentFactory struct {
	ClassifierFactory ClassifierFactory
	StorageFactory    StorageFactory
}

// NewComponentFactory wires a classifier factory to the fetcher for
// storageType, caching downloads in cacheDir
func NewComponentFactory(storageFactory StorageFactory, storageType StorageType, cacheDir, onnxLibrary string) (*ComponentFactory, error) {
	fetcher, err := storageFactory.CreateStorage(storageType)
	if err != nil {
		return nil, err
	}
	cache := storage.NewModelCache(cacheDir, fetcher)
	return &ComponentFactory{
		ClassifierFactory: NewClassifierFactory(cache, onnxLibrary),
		StorageFactory:    storageFactory,
	}, nil
}
