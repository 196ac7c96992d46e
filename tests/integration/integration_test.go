//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/oakmart/storefront/internal/domain/cart"
	"github.com/oakmart/storefront/internal/domain/discount"
	"github.com/oakmart/storefront/internal/domain/identity"
	"github.com/oakmart/storefront/internal/domain/order"
	"github.com/oakmart/storefront/internal/domain/receiver"
	"github.com/oakmart/storefront/internal/handler"
	"github.com/oakmart/storefront/internal/storage/postgres"
)

var (
	baseURL    string
	httpClient *http.Client
	pool       *pgxpool.Pool
	auth       *identity.TokenProvider
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pgc, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("storefront"),
		tcpostgres.WithUsername("storefront"),
		tcpostgres.WithPassword("storefront"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(pgc); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	connStr, err := pgc.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("connection string: %v", err)
	}

	pool, err = postgres.NewPool(ctx, connStr)
	if err != nil {
		log.Fatalf("create pool: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	auth = identity.NewTokenProvider([]byte("integration-pepper"))

	// Wire the real repositories and services against the container, then
	// serve the API in-process.
	productStore := postgres.NewProductStore(pool)
	cartRepo := postgres.NewCartRepository(pool)
	discountRepo := postgres.NewDiscountRepository(pool)
	engine := discount.NewEngine(discountRepo)

	h := handler.NewHandler(
		cart.NewService(cartRepo, productStore, discountRepo),
		engine,
		order.NewAssembler(postgres.NewCheckoutStore(pool), engine, 80, postgres.IsTransient),
		order.NewFinalizer(postgres.NewOrderRepository(pool)),
		receiver.NewResolver(postgres.NewReceiverRepository(pool)),
		auth,
	)

	server := httptest.NewServer(h.Routes())
	defer server.Close()

	baseURL = server.URL
	httpClient = server.Client()

	return m.Run()
}

// Seeding helpers. Each test creates its own user so tests stay independent.

func createUser(t *testing.T) (uuid.UUID, string) {
	t.Helper()

	userID := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO users (id, email) VALUES ($1, $2)`,
		userID, fmt.Sprintf("user-%s@example.com", userID))
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return userID, auth.Issue(userID, identity.RoleUser)
}

func createProduct(t *testing.T, name string, price int64, stock int) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO products (id, name, price, stock) VALUES ($1, $2, $3, $4)`,
		id, name, price, stock)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return id
}

func createDiscount(t *testing.T, code, percent string, price, threshold int64, limit int) int16 {
	t.Helper()

	var id int16
	err := pool.QueryRow(context.Background(),
		`INSERT INTO discounts (kol_code, percent, price, threshold_price, usage_limit)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		code, percent, price, threshold, limit).Scan(&id)
	if err != nil {
		t.Fatalf("create discount: %v", err)
	}
	return id
}

func productStock(t *testing.T, productID uuid.UUID) int {
	t.Helper()

	var stock int
	err := pool.QueryRow(context.Background(),
		`SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if err != nil {
		t.Fatalf("query stock: %v", err)
	}
	return stock
}

// HTTP helpers.

func do(t *testing.T, token, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}

	req, err := http.NewRequestWithContext(context.Background(), method, baseURL+path, &buf)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status: got %d, want %d", resp.StatusCode, want)
	}
}
