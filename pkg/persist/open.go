package persist

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Backend kinds accepted by Open.
const (
	BackendFile   = "file"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// BackendConfig selects and configures a Backend.
type BackendConfig struct {
	Kind  string
	Dir   string
	Path  string
	Redis RedisOptions
}

// Open builds the backend described by cfg. An empty kind with an empty
// directory yields a MemoryBackend, mirroring a cache that was configured
// without a location.
func Open(cfg BackendConfig) (Backend, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		if cfg.Dir == "" {
			kind = BackendMemory
		} else {
			kind = BackendFile
		}
	}

	switch kind {
	case BackendFile:
		return NewFileBackend(cfg.Dir)
	case BackendBolt:
		return NewBoltBackend(pathOrDefault(cfg, "synced.db"))
	case BackendSQLite:
		return NewSQLiteBackend(pathOrDefault(cfg, "synced.sqlite"))
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("persist: redis backend requires an address")
		}
		return NewRedisBackend(cfg.Redis), nil
	case BackendMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("persist: unknown backend %q", cfg.Kind)
	}
}

func pathOrDefault(cfg BackendConfig, file string) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return filepath.Join(cfg.Dir, file)
}
