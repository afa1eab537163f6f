package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/ledger"
	"ms-marketplace/internal/models"
	orderdb "ms-marketplace/internal/order/db"
	orderredis "ms-marketplace/internal/order/redis"
	"ms-marketplace/internal/releasekey"
	"ms-marketplace/internal/sysconfig"
	"ms-marketplace/internal/testutil"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// TestPostgresIntegration applies the embedded migrations to a real Postgres.
func TestPostgresIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Postgres integration test in short mode")
	}

	ctx := context.Background()
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "marketplace",
				"POSTGRES_PASSWORD": "marketplace",
				"POSTGRES_DB":       "marketplace",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	defer pg.Terminate(ctx)

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://marketplace:marketplace@%s:%s/marketplace?sslmode=disable", host, port.Port())
	sqldb, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	runner := NewRunner(bunDB, MigrateOptions{AutoMigrate: true}, nil)
	defer runner.Close()

	// schema only
	require.NoError(t, runner.RunMigrations())
	n, err := bunDB.NewSelect().Model((*models.Vendor)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, runner.MigrateUp())
	n, err = bunDB.NewSelect().Model((*models.Vendor)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var cfg models.SystemConfig
	require.NoError(t, bunDB.NewSelect().Model(&cfg).Where("id = 1").Scan(ctx))
	assert.True(t, cfg.HasFeature(models.FeatureCheckout))
	assert.Equal(t, int64(500), cfg.DeliveryFee)

	// shop names are unique regardless of case
	_, err = bunDB.NewInsert().Model(&models.Vendor{
		ID: "copycat", ShopName: "KWAME PRINTS", Status: models.VendorActive, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}).Exec(ctx)
	assert.Error(t, err)

	// balances can never go negative
	_, err = bunDB.NewInsert().Model(&models.VendorLedger{VendorID: "demo-vendor-a", Balance: -1, UpdatedAt: time.Now()}).Exec(ctx)
	assert.Error(t, err)

	t.Run("flash sale never oversells", func(t *testing.T) {
		flashSaleNeverOversells(t, bunDB)
	})
	t.Run("release key redeems once", func(t *testing.T) {
		releaseKeyRedeemsOnce(t, bunDB)
	})
	t.Run("config patches do not overwrite each other", func(t *testing.T) {
		configPatchesCompose(t, bunDB)
	})

	// the demo-data rollback cannot delete a flash sale that orders point at
	for _, table := range []string{"release_keys", "order_items", "orders", "order_groups", "vendor_ledgers"} {
		_, err := bunDB.ExecContext(ctx, "DELETE FROM "+table)
		require.NoError(t, err)
	}
	require.NoError(t, runner.MigrateDown())
	var exists bool
	require.NoError(t, bunDB.QueryRowContext(ctx, "SELECT to_regclass('public.orders') IS NOT NULL").Scan(&exists))
	assert.False(t, exists)
}

func insertGroup(t *testing.T, db *bun.DB, orderID string, amount int64, status models.OrderStatus, escrow models.EscrowStatus) *models.Order {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	group := &models.OrderGroup{ID: "g-" + orderID, PaymentRef: "mp_" + orderID, TotalAmount: amount, BuyerID: "buyer", CreatedAt: now}
	o := &models.Order{
		ID: orderID, OrderGroupID: group.ID, BuyerID: "buyer", VendorID: "demo-vendor-a", Amount: amount,
		FulfillmentType: models.FulfillmentPickup, Status: status, EscrowStatus: escrow, CreatedAt: now, UpdatedAt: now,
	}
	_, err := db.NewInsert().Model(group).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(o).Exec(ctx)
	require.NoError(t, err)
	return o
}

// Ten buyers race for three plates each of a twenty-plate sale: six win.
func flashSaleNeverOversells(t *testing.T, db *bun.DB) {
	ctx := context.Background()
	store := &orderdb.DB{Bun: db}
	saleID := "demo-jollof-lunch"

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := time.Now().UTC()
			id := uuid.NewString()
			group := &models.OrderGroup{ID: id, PaymentRef: "mp_" + id, TotalAmount: 4500, BuyerID: "buyer-" + id, CreatedAt: now}
			orders := []*models.Order{{
				ID: "o-" + id, OrderGroupID: id, BuyerID: group.BuyerID, VendorID: "demo-vendor-a", Amount: 4500,
				FulfillmentType: models.FulfillmentPickup, Status: models.OrderPending, EscrowStatus: models.EscrowPending,
				CreatedAt: now, UpdatedAt: now,
			}}
			items := []*models.OrderItem{{
				ID: "i-" + id, OrderID: "o-" + id, ProductID: "demo-jollof", Quantity: 3, Price: 1500,
				TitleSnapshot: "Jollof and Chicken", FlashSaleID: &saleID,
			}}
			results <- store.CreateOrderGroup(ctx, group, orders, items, nil)
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrConflict)
	}
	assert.Equal(t, 6, won)

	sale, err := store.GetFlashSale(ctx, saleID)
	require.NoError(t, err)
	assert.Equal(t, 18, sale.StockSold)
	assert.LessOrEqual(t, sale.StockSold, sale.StockLimit)
}

// Several devices submit the same valid code at once: one release, one credit.
func releaseKeyRedeemsOnce(t *testing.T, db *bun.DB) {
	ctx := context.Background()
	client, _ := testutil.NewRedis(t)
	gate := sysconfig.NewGate(&sysconfig.DB{Bun: db, Defaults: testutil.DefaultConfig()}, time.Minute, nil, nil)
	store := &orderdb.DB{Bun: db}
	led := ledger.NewService(db, gate, nil, nil, nil)
	svc := releasekey.NewService(db, store, led, orderredis.NewRedis(client, nil, 5, 15*time.Minute), gate, nil, "pepper", nil, nil)

	before, err := led.GetLedger(ctx, "demo-vendor-a")
	require.NoError(t, err)

	insertGroup(t, db, "race-1", 4000, models.OrderReady, models.EscrowHeld)
	code, err := svc.Issue(ctx, "race-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- svc.Redeem(ctx, testutil.Vendor("demo-vendor-a"), "race-1", code)
		}()
	}
	wg.Wait()
	close(results)

	released := 0
	for err := range results {
		if err == nil {
			released++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrExpiredKey)
	}
	assert.Equal(t, 1, released)

	o, err := store.GetOrderByID(ctx, "race-1")
	require.NoError(t, err)
	assert.Equal(t, models.EscrowReleased, o.EscrowStatus)
	assert.Equal(t, models.OrderPickedUp, o.Status)

	after, err := led.GetLedger(ctx, "demo-vendor-a")
	require.NoError(t, err)
	assert.Equal(t, before.Balance+4000, after.Balance)
}

func configPatchesCompose(t *testing.T, db *bun.DB) {
	ctx := context.Background()
	newGate := func() *sysconfig.Gate {
		return sysconfig.NewGate(&sysconfig.DB{Bun: db, Defaults: testutil.DefaultConfig()}, time.Minute, nil, nil)
	}
	admin := testutil.Admin("ops")

	delivery := int64(650)
	platform := int64(75)
	patches := []models.ConfigPatch{{DeliveryFee: &delivery}, {PlatformFee: &platform}}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(patch models.ConfigPatch) {
			defer wg.Done()
			_, err := newGate().Set(ctx, admin, patch)
			assert.NoError(t, err)
		}(patches[i%2])
	}
	wg.Wait()

	cfg, err := (&sysconfig.DB{Bun: db}).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(650), cfg.DeliveryFee)
	assert.Equal(t, int64(75), cfg.PlatformFee)
}
