package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"ms-marketplace/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

var tables = []interface{}{
	(*models.Product)(nil),
	(*models.FlashSale)(nil),
	(*models.OrderGroup)(nil),
	(*models.Order)(nil),
	(*models.OrderItem)(nil),
	(*models.CheckoutKey)(nil),
	(*models.ReleaseKey)(nil),
	(*models.PaymentEvent)(nil),
	(*models.VendorLedger)(nil),
	(*models.PayoutRequest)(nil),
	(*models.Vendor)(nil),
	(*models.SystemConfig)(nil),
}

// NewDB returns an isolated in-memory SQLite database with every table created.
// A single connection keeps the shared-cache database alive and serializes
// transactions.
func NewDB(t *testing.T) *bun.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	for _, m := range tables {
		if _, err := db.NewCreateTable().Model(m).Exec(ctx); err != nil {
			t.Fatalf("Failed to create table for %T: %v", m, err)
		}
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NewRedis starts a miniredis server and a client connected to it.
func NewRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func Buyer(id string) models.Principal {
	return models.Principal{ID: id, Role: models.RoleBuyer, Capabilities: map[models.Capability]bool{}}
}

func Vendor(id string) models.Principal {
	return models.Principal{ID: id, Role: models.RoleVendor, Capabilities: map[models.Capability]bool{}}
}

func Runner(id string) models.Principal {
	return models.Principal{ID: id, Role: models.RoleRunner, Capabilities: map[models.Capability]bool{}}
}

func Admin(id string) models.Principal {
	return models.Principal{ID: id, Role: models.RoleAdmin, Capabilities: map[models.Capability]bool{
		models.CapBypassGate:    true,
		models.CapManageConfig:  true,
		models.CapSettlePayouts: true,
		models.CapRefundAny:     true,
	}}
}

func SeedProduct(t *testing.T, db *bun.DB, id, vendorID, title string, price int64) models.Product {
	t.Helper()
	p := models.Product{ID: id, VendorID: vendorID, Title: title, Price: price, Active: true, CreatedAt: time.Now().UTC()}
	if _, err := db.NewInsert().Model(&p).Exec(context.Background()); err != nil {
		t.Fatalf("Failed to seed product: %v", err)
	}
	return p
}

func SeedFlashSale(t *testing.T, db *bun.DB, sale models.FlashSale) models.FlashSale {
	t.Helper()
	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	if _, err := db.NewInsert().Model(&sale).Exec(context.Background()); err != nil {
		t.Fatalf("Failed to seed flash sale: %v", err)
	}
	return sale
}

func SeedConfig(t *testing.T, db *bun.DB, cfg models.SystemConfig) {
	t.Helper()
	cfg.ID = 1
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now().UTC()
	}
	if _, err := db.NewInsert().Model(&cfg).Exec(context.Background()); err != nil {
		t.Fatalf("Failed to seed config: %v", err)
	}
}

// DefaultConfig has every feature on, a ₵5 delivery fee and no platform fee.
func DefaultConfig() models.SystemConfig {
	return models.SystemConfig{
		ActiveFeatures: append([]string(nil), models.AllFeatures...),
		DeliveryFee:    500,
	}
}
