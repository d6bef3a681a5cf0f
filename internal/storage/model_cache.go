package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/mri-gradcam-go/internal/logger"
)

// ModelCache resolves model sources to local files, downloading remote
// ones once into dir.
type ModelCache struct {
	dir     string
	fetcher ModelFetcher
	mu      sync.Mutex
}

// NewModelCache creates a cache. fetcher may be nil when only local paths
// are used.
func NewModelCache(dir string, fetcher ModelFetcher) *ModelCache {
	return &ModelCache{dir: dir, fetcher: fetcher}
}

// EnsureLocal returns a readable local path for source. Existing local
// files are returned as is. Downloads go to a temp file that is renamed
// into place, so a crashed download never leaves a truncated model.
func (c *ModelCache) EnsureLocal(ctx context.Context, source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", fmt.Errorf("empty model source")
	}
	if fi, err := os.Stat(source); err == nil && !fi.IsDir() {
		return source, nil
	}
	if c.fetcher == nil {
		return "", fmt.Errorf("model %s not found locally and no remote source is configured", source)
	}

	name := cacheName(source)
	if name == "" {
		return "", fmt.Errorf("cannot derive a file name from %s", source)
	}
	dst := filepath.Join(c.dir, name)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := os.Stat(dst); err == nil {
		logger.WithField("path", dst).Debug("Using cached model")
		return dst, nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create model cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, name+".*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	logger.WithFields(logrus.Fields{"source": source, "path": dst}).Info("Downloading model")
	if err := c.fetcher.Fetch(ctx, source, tmp); err != nil {
		tmp.Close()
		return "", fmt.Errorf("download %s: %w", source, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", fmt.Errorf("install %s: %w", dst, err)
	}
	return dst, nil
}

// SiblingSource swaps the extension of a path or URL path, keeping any
// query string. "m/binary.onnx" with ".meta.json" gives "m/binary.meta.json".
func SiblingSource(source, ext string) string {
	if u, err := url.Parse(source); err == nil && u.Scheme != "" && u.Host != "" {
		u.Path = strings.TrimSuffix(u.Path, path.Ext(u.Path)) + ext
		return u.String()
	}
	return strings.TrimSuffix(source, filepath.Ext(source)) + ext
}

func cacheName(source string) string {
	p := source
	if u, err := url.Parse(source); err == nil && u.Scheme != "" && u.Host != "" {
		p = u.Path
	}
	base := path.Base(filepath.ToSlash(p))
	if base == "." || base == "/" {
		return ""
	}
	return base
}
