package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/proximity-cli/internal/db"
	"github.com/sells-group/proximity-cli/internal/feature"
	"github.com/sells-group/proximity-cli/internal/source"
)

// storeEnv wraps whichever feature store the config selects. Exactly one of
// the two handles is non-nil.
type storeEnv struct {
	pool   *pgxpool.Pool
	sqlite *source.SQLiteStore
}

// openStore connects to the configured feature store and runs migrations.
func openStore(ctx context.Context) (*storeEnv, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := source.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &storeEnv{pool: pool}, nil

	case "sqlite":
		store, err := source.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return &storeEnv{sqlite: store}, nil

	default:
		return nil, eris.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func (e *storeEnv) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
	if e.sqlite != nil {
		_ = e.sqlite.Close()
	}
}

// collection returns the named collection. The postgres store supports
// native predicate pushdown; the sqlite store is iterate-only.
func (e *storeEnv) collection(name string) feature.Collection {
	if e.pool != nil {
		return source.NewPostgresCollection(e.pool, name)
	}
	return e.sqlite.Collection(name)
}

// load upserts features into the named collection.
func (e *storeEnv) load(ctx context.Context, name string, features []*feature.Feature) (int64, error) {
	if e.pool != nil {
		return source.NewPostgresCollection(e.pool, name).LoadFeatures(ctx, features)
	}
	return e.sqlite.LoadFeatures(ctx, name, features)
}
