package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/uuid"

	"github.com/anime-shed/mri-gradcam-go/internal/logger"
)

// ErrArtifactNotFound is returned for unknown or expired artifacts.
var ErrArtifactNotFound = errors.New("artifact not found")

const (
	latestName  = "latest"
	artifactExt = ".jpg"
	defaultTTL  = time.Hour
)

// ArtifactStore keeps rendered heatmap images for later retrieval.
// Put also marks the artifact as the latest one.
type ArtifactStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Latest(ctx context.Context) ([]byte, error)
}

// NewArtifactID returns a random artifact id.
func NewArtifactID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("generate artifact id: %w", err)
	}
	return id.String(), nil
}

// validID rejects anything that is not a uuid, which also keeps ids from
// escaping the store directory.
func validID(id string) bool {
	_, err := uuid.FromString(id)
	return err == nil
}

// FileArtifactStore writes artifacts as JPEG files in a directory.
type FileArtifactStore struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewFileArtifactStore creates dir if needed. Artifacts older than ttl are
// pruned on Put; the latest artifact is never pruned.
func NewFileArtifactStore(dir string, ttl time.Duration) (*FileArtifactStore, error) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FileArtifactStore{dir: dir, ttl: ttl, now: time.Now}, nil
}

func (s *FileArtifactStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := NewArtifactID()
	if err != nil {
		return "", err
	}
	if err := s.writeAtomic(id+artifactExt, data); err != nil {
		return "", err
	}
	if err := s.writeAtomic(latestName+artifactExt, data); err != nil {
		return "", err
	}
	s.prune()
	return id, nil
}

func (s *FileArtifactStore) Get(ctx context.Context, id string) ([]byte, error) {
	if !validID(id) {
		return nil, ErrArtifactNotFound
	}
	return s.read(id + artifactExt)
}

func (s *FileArtifactStore) Latest(ctx context.Context) ([]byte, error) {
	return s.read(latestName + artifactExt)
}

func (s *FileArtifactStore) read(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

func (s *FileArtifactStore) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, name+".*.part")
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("install artifact: %w", err)
	}
	return nil
}

func (s *FileArtifactStore) prune() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, artifactExt) || name == latestName+artifactExt {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			logger.WithError(err).WithField("artifact", name).Warn("Failed to prune artifact")
		}
	}
}
