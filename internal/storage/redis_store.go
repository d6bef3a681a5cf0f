package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyburd/redigo/redis"
)

const redisKeyPrefix = "gradcam:artifact:"

// RedisArtifactStore keeps artifacts in Redis with a TTL, so several
// replicas can serve the same latest heatmap.
type RedisArtifactStore struct {
	pool *redis.Pool
	ttl  time.Duration
}

// NewRedisArtifactStore dials lazily through a connection pool.
func NewRedisArtifactStore(address string, maxConnections int, ttl time.Duration) *RedisArtifactStore {
	if maxConnections <= 0 {
		maxConnections = 10
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	pool := redis.NewPool(func() (redis.Conn, error) {
		c, err := redis.Dial("tcp", address)
		if err != nil {
			return nil, err
		}
		return c, nil
	}, maxConnections)
	pool.MaxActive = maxConnections
	pool.IdleTimeout = 5 * time.Minute

	return &RedisArtifactStore{pool: pool, ttl: ttl}
}

func artifactKey(id string) string {
	return redisKeyPrefix + id
}

func (s *RedisArtifactStore) ttlSeconds() int {
	sec := int(s.ttl / time.Second)
	if sec < 1 {
		sec = 1
	}
	return sec
}

func (s *RedisArtifactStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := NewArtifactID()
	if err != nil {
		return "", err
	}

	conn := s.pool.Get()
	defer conn.Close()

	ttl := s.ttlSeconds()
	conn.Send("MULTI")
	conn.Send("SETEX", artifactKey(id), ttl, data)
	conn.Send("SETEX", artifactKey(latestName), ttl, data)
	if _, err := conn.Do("EXEC"); err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	return id, nil
}

func (s *RedisArtifactStore) Get(ctx context.Context, id string) ([]byte, error) {
	if !validID(id) {
		return nil, ErrArtifactNotFound
	}
	return s.get(artifactKey(id))
}

func (s *RedisArtifactStore) Latest(ctx context.Context) ([]byte, error) {
	return s.get(artifactKey(latestName))
}

func (s *RedisArtifactStore) get(key string) ([]byte, error) {
	conn := s.pool.Get()
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// Ping checks connectivity.
func (s *RedisArtifactStore) Ping(ctx context.Context) error {
	conn := s.pool.Get()
	defer conn.Close()
	_, err := conn.Do("PING")
	return err
}

// Close releases pooled connections.
func (s *RedisArtifactStore) Close() error {
	return s.pool.Close()
}
