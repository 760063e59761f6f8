package app

import (
	"fmt"
	"strings"
	"time"

	"studysched/internal/config"
	"studysched/internal/storage"
)

// mapStorageConfig turns the storage section into a storage.Config. A missing
// section selects the in-memory store; file paths resolve against the config
// file's directory.
func mapStorageConfig(cfg *config.Config, resolve func(string) string) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if path != "" && resolve != nil {
		path = resolve(path)
	}

	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "none":
		return storage.Config{}, fmt.Errorf("storage.driver=none: scheduling needs a store")
	case "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	case "redis":
		if strings.TrimSpace(sc.Addr) == "" {
			return storage.Config{}, fmt.Errorf("storage.addr is required when storage.driver=redis")
		}
		if sc.DB < 0 {
			return storage.Config{}, fmt.Errorf("storage.db must be >= 0")
		}
		return storage.Config{
			Driver:    "redis",
			Addr:      strings.TrimSpace(sc.Addr),
			Password:  sc.Password,
			DB:        sc.DB,
			KeyPrefix: sc.KeyPrefix,
		}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
