package kvcli

import (
	"context"
	"fmt"

	"github.com/otterkv/otterkv/internal/config"
	"github.com/otterkv/otterkv/pkg/kv"
	"github.com/otterkv/otterkv/pkg/kv/memkv"
	"github.com/otterkv/otterkv/pkg/kv/sqlitekv"
)

// openEngine constructs the kv.Engine named by cfg.Backend. The returned
// closer is non-nil only for backends holding resources (sqlitekv's db
// handle); callers should defer it when non-nil.
func openEngine(ctx context.Context, cfg config.EngineConfig) (kv.Engine, func() error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memkv.New(memkv.Config{}), nil, nil

	case config.BackendSQLite:
		eng, err := sqlitekv.Open(ctx, sqlitekv.Config{
			Dir:         cfg.SQLiteDir,
			LockTimeout: cfg.LockTimeout(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite engine: %w", err)
		}

		return eng, eng.Close, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrBackendUnknown, cfg.Backend)
	}
}
