package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medisphere/medisphere/internal/config"
	"github.com/medisphere/medisphere/internal/domain/allocation"
	"github.com/medisphere/medisphere/internal/domain/billing"
	"github.com/medisphere/medisphere/internal/domain/scheduling"
	"github.com/medisphere/medisphere/internal/domain/ward"
	"github.com/medisphere/medisphere/internal/platform/db"
	"github.com/medisphere/medisphere/internal/store/memory"
	"github.com/medisphere/medisphere/internal/store/sqlite"
)

type txRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// backend bundles the repositories of one storage driver.
type backend struct {
	driver       string
	wards        ward.Repository
	allocations  allocation.Repository
	bills        billing.Repository
	appointments scheduling.Repository
	tx           txRunner
	pinger       db.Pinger
	// pool is set for the postgres driver only.
	pool  *pgxpool.Pool
	close func()
}

// withTenant runs fn against the default tenant's schema on postgres and
// directly otherwise.
func (b *backend) withTenant(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	if b.pool == nil {
		return fn(ctx)
	}
	return db.WithTenantConn(ctx, b.pool, tenantID, fn)
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &backend{
			driver:       cfg.StoreDriver,
			wards:        ward.NewRepo(pool),
			allocations:  allocation.NewRepo(pool),
			bills:        billing.NewRepo(pool),
			appointments: scheduling.NewRepo(pool),
			tx:           db.NewTxRunner(pool),
			pinger:       pool,
			pool:         pool,
			close:        pool.Close,
		}, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return memoryBackend(cfg.StoreDriver, store.Store, store, func() { _ = store.Close() }), nil
	case config.DriverMemory:
		store := memory.New()
		return memoryBackend(cfg.StoreDriver, store, store, func() {}), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func memoryBackend(driver string, store *memory.Store, pinger db.Pinger, closeFn func()) *backend {
	return &backend{
		driver:       driver,
		wards:        store.Wards(),
		allocations:  store.Allocations(),
		bills:        store.Bills(),
		appointments: store.Appointments(),
		tx:           store,
		pinger:       pinger,
		close:        closeFn,
	}
}
