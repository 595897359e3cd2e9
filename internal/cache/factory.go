package cache

import (
	"fmt"

	"go.uber.org/zap"

	"mandeltiles/internal/config"
)

// NewCache creates the storage backend selected by cfg.Type. Backends holding
// connections also implement io.Closer.
func NewCache(cfg config.Cache, redisCfg config.Redis, log *zap.Logger) (Cache, error) {
	switch cfg.Type {
	case "file":
		log.Info("Using file cache", zap.String("cache_dir", cfg.Dir))
		return NewFileCache(cfg.Dir), nil
	case "memory":
		log.Info("Using memory cache", zap.Int("max_tiles", cfg.MemoryTiles))
		return NewMemoryCache(cfg.MemoryTiles), nil
	case "sqlite":
		log.Info("Using sqlite cache", zap.String("path", cfg.SQLitePath))
		return NewSQLiteCache(cfg.SQLitePath, log)
	case "redis":
		log.Info("Using redis cache", zap.String("addr", redisCfg.Addr), zap.Duration("ttl", redisCfg.TTL))
		return NewRedisCache(redisCfg)
	case "disabled":
		log.Info("Cache disabled")
		return NoopCache{}, nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: file, memory, sqlite, redis, disabled)", cfg.Type)
	}
}
