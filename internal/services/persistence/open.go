package persistence

import (
	"context"
	"fmt"
)

const (
	BackendMemory   = "memory"
	BackendInflux   = "influx"
	BackendPostgres = "postgres"
)

type Config struct {
	Backend     string
	Influx      InfluxConfig
	PostgresDSN string
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendInflux:
		return NewInfluxStore(cfg.Influx)
	case BackendPostgres:
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
