package app

import (
	"context"
	"io/fs"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/seed"
	"github.com/xenking/kart-fulfillment/internal/storage/memory"
	"github.com/xenking/kart-fulfillment/internal/storage/postgres"
	"github.com/xenking/kart-fulfillment/pkg/health"
)

// backend is what the services need from storage. Both implementations
// provide all of it.
type backend interface {
	order.Store
	cart.Repository
	auth.Repository
}

type storage struct {
	backend backend
	// ping is nil for backends without a remote dependency.
	ping  health.Pinger
	close func()
}

func openStorage(ctx context.Context, lg *zap.Logger, cfg *Config) (*storage, error) {
	switch cfg.Storage {
	case StorageMemory:
		st := memory.New()
		if err := seedMemory(ctx, st, lg.Named("seed"), cfg); err != nil {
			return nil, err
		}
		return &storage{backend: st, close: func() {}}, nil
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		st := postgres.NewStore(pool, lg.Named("postgres"))
		return &storage{backend: st, ping: st, close: pool.Close}, nil
	}
}

// seedMemory loads the configured catalog and keys so a memory-backed server
// is usable without a separate seeding step.
func seedMemory(ctx context.Context, st *memory.Store, lg *zap.Logger, cfg *Config) error {
	if cfg.Seed.CatalogFile != "" {
		c, err := seed.ReadFile(cfg.Seed.CatalogFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			lg.Warn("Seed catalog not found, starting empty", zap.String("path", cfg.Seed.CatalogFile))
		case err != nil:
			return errors.Wrap(err, "read seed catalog")
		default:
			if err := seed.Apply(ctx, st, c, lg); err != nil {
				return errors.Wrap(err, "apply seed catalog")
			}
		}
	}
	return seed.ApplyKeys(ctx, st, []seed.Key{
		{
			ID:         "default",
			Name:       "Default customer key",
			Plain:      cfg.Seed.APIKey,
			Role:       auth.RoleCustomer,
			CustomerID: cfg.Seed.CustomerID,
		},
		{
			ID:    "admin",
			Name:  "Admin key",
			Plain: cfg.Seed.AdminAPIKey,
			Role:  auth.RoleAdmin,
			Email: cfg.Seed.AdminEmail,
		},
	}, []byte(cfg.APIKeyPepper), lg)
}
