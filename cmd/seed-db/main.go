package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/seed"
	"github.com/xenking/kart-fulfillment/internal/storage/postgres"
)

type options struct {
	databaseURL    string
	catalogFile    string
	customerAPIKey string
	customerID     int64
	adminAPIKey    string
	adminEmail     string
	apiKeyPepper   string
}

func main() {
	var o options

	flag.StringVar(&o.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&o.catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file, optionally .gz")
	flag.StringVar(&o.customerAPIKey, "api-key", "", "customer API key to seed (or KART_SEED_API_KEY env)")
	flag.Int64Var(&o.customerID, "customer-id", 1, "customer the seeded API key belongs to")
	flag.StringVar(&o.adminAPIKey, "admin-api-key", "", "admin API key to seed (or KART_SEED_ADMIN_API_KEY env)")
	flag.StringVar(&o.adminEmail, "admin-email", "ops@example.com", "notification address of the admin key")
	flag.StringVar(&o.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or KART_API_KEY_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if o.databaseURL == "" {
		o.databaseURL = os.Getenv("DATABASE_URL")
	}
	if o.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if o.customerAPIKey == "" {
		o.customerAPIKey = os.Getenv("KART_SEED_API_KEY")
	}
	if o.customerAPIKey == "" {
		lg.Fatal("API key is required: set --api-key or KART_SEED_API_KEY")
	}
	if o.adminAPIKey == "" {
		o.adminAPIKey = os.Getenv("KART_SEED_ADMIN_API_KEY")
	}
	if o.apiKeyPepper == "" {
		o.apiKeyPepper = os.Getenv("KART_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, o); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}

	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, o options) error {
	lg.Info("Connecting to database")

	pool, err := postgres.NewPool(ctx, o.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	lg.Info("Reading catalog", zap.String("path", o.catalogFile))

	catalog, err := seed.ReadFile(o.catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog")
	}

	store := postgres.NewStore(pool, lg)
	if err := seed.Apply(ctx, store, catalog, lg); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	keys := []seed.Key{
		{
			ID:         "default",
			Name:       "Default customer key",
			Plain:      o.customerAPIKey,
			Role:       auth.RoleCustomer,
			CustomerID: o.customerID,
		},
		{
			ID:    "admin",
			Name:  "Default admin key",
			Plain: o.adminAPIKey,
			Role:  auth.RoleAdmin,
			Email: o.adminEmail,
		},
	}
	if err := seed.ApplyKeys(ctx, store, keys, []byte(o.apiKeyPepper), lg); err != nil {
		return errors.Wrap(err, "seed api keys")
	}

	return nil
}
