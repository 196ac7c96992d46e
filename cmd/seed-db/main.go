// Command seed-db loads demo data: a catalog from a JSON file, a couple of
// KOL discount codes, and a demo user whose bearer token is printed so the
// API can be exercised immediately.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmart/storefront/internal/domain/identity"
	"github.com/oakmart/storefront/internal/storage/postgres"
)

type productJSON struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Price    int64     `json:"price"`
	Stock    int       `json:"stock"`
	ImageURL string    `json:"image_url"`
}

const (
	upsertProductSQL = `INSERT INTO products (id, name, price, stock, image_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock,
			image_url = EXCLUDED.image_url, updated_at = now()`

	upsertDiscountSQL = `INSERT INTO discounts (kol_code, percent, price, threshold_price, usage_limit, expired_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kol_code) DO UPDATE
		SET percent = EXCLUDED.percent, price = EXCLUDED.price,
			threshold_price = EXCLUDED.threshold_price, usage_limit = EXCLUDED.usage_limit,
			expired_at = EXCLUDED.expired_at, updated_at = now()`

	upsertUserSQL = `INSERT INTO users (id, email) VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET updated_at = now()
		RETURNING id`
)

func main() {
	var (
		databaseURL  string
		productsFile string
		pepper       string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&pepper, "auth-pepper", "", "HMAC pepper for bearer tokens (or STORE_AUTH_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if pepper == "" {
		pepper = os.Getenv("STORE_AUTH_PEPPER")
	}
	if pepper == "" {
		slog.Error("auth pepper is required: set --auth-pepper or STORE_AUTH_PEPPER")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, pepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedDiscounts(ctx, pool); err != nil {
		return errors.Wrap(err, "seed discounts")
	}
	if err := seedDemoUser(ctx, pool, pepper); err != nil {
		return errors.Wrap(err, "seed demo user")
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if _, err := pool.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Price, p.Stock, p.ImageURL); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		slog.Info("upserted product", slog.String("name", p.Name))
	}

	return nil
}

func seedDiscounts(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo discount codes")

	nextMonth := time.Now().AddDate(0, 1, 0)
	discounts := []struct {
		code      string
		percent   string
		price     int64
		threshold int64
		limit     int
		expiredAt *time.Time
	}{
		// 10% off, single use per user.
		{code: "SAVE10", percent: "0.90", limit: 1, expiredAt: &nextMonth},
		// Flat 50 off orders of 500 or more.
		{code: "FLAT50", percent: "1", price: 50, threshold: 500, limit: 100},
	}

	for _, d := range discounts {
		if _, err := pool.Exec(ctx, upsertDiscountSQL,
			d.code, d.percent, d.price, d.threshold, d.limit, d.expiredAt); err != nil {
			return errors.Wrapf(err, "upsert discount %s", d.code)
		}
		slog.Info("upserted discount", slog.String("code", d.code))
	}

	return nil
}

func seedDemoUser(ctx context.Context, pool *pgxpool.Pool, pepper string) error {
	var userID uuid.UUID
	if err := pool.QueryRow(ctx, upsertUserSQL, uuid.New(), "demo@example.com").Scan(&userID); err != nil {
		return errors.Wrap(err, "upsert demo user")
	}

	token := identity.NewTokenProvider([]byte(pepper)).Issue(userID, identity.RoleUser)
	slog.Info("demo user ready",
		slog.String("email", "demo@example.com"),
		slog.String("bearer_token", token),
	)
	return nil
}
