package asset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Store persists the full list of assets as one document.
type Store interface {
	Load(ctx context.Context) ([]*Asset, error)
	Save(ctx context.Context, assets []*Asset) error
}

// =============================================================================
// File store
// =============================================================================

// FileStore keeps assets in a JSON file, replaced atomically on every save.
type FileStore struct {
	path   string
	logger *zap.Logger
}

func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context) ([]*Asset, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load assets %s: %w", s.path, err)
	}
	return Decode(data)
}

func (s *FileStore) Save(_ context.Context, assets []*Asset) error {
	data, err := json.MarshalIndent(assets, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode assets: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to store assets %s: %w", s.path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to store assets %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to store assets %s: %w", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to store assets %s: %w", s.path, err)
	}

	s.logger.Debug("Stored assets", zap.String("path", s.path), zap.Int("count", len(assets)))
	return nil
}

// =============================================================================
// Redis store
// =============================================================================

// DefaultRedisKey holds the asset document when no key is configured.
const DefaultRedisKey = "asset-trader:assets"

// RedisStore keeps the same JSON document as FileStore under one Redis key.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

func NewRedisStore(client *redis.Client, key string, logger *zap.Logger) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, key: key, logger: logger}
}

func (s *RedisStore) Load(ctx context.Context) ([]*Asset, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []*Asset{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load assets from redis key %s: %w", s.key, err)
	}
	return Decode(data)
}

func (s *RedisStore) Save(ctx context.Context, assets []*Asset) error {
	data, err := json.Marshal(assets)
	if err != nil {
		return fmt.Errorf("failed to encode assets: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store assets to redis key %s: %w", s.key, err)
	}
	s.logger.Debug("Stored assets", zap.String("key", s.key), zap.Int("count", len(assets)))
	return nil
}

// Decode parses a JSON asset document.
func Decode(data []byte) ([]*Asset, error) {
	var assets []*Asset
	if err := json.Unmarshal(data, &assets); err != nil {
		return nil, fmt.Errorf("failed to decode assets: %w", err)
	}
	return assets, nil
}
