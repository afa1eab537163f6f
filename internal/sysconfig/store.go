package sysconfig

import (
	"context"
	"fmt"

	"ms-marketplace/internal/database"
	"ms-marketplace/internal/models"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

const singletonID = 1

type Store interface {
	Load(ctx context.Context) (*models.SystemConfig, error)
	// Update applies fn to the locked row and saves the result atomically.
	Update(ctx context.Context, fn func(cfg *models.SystemConfig) error) (*models.SystemConfig, error)
}

// DB keeps the config in a single row, created from Defaults on first read.
type DB struct {
	Bun      *bun.DB
	Defaults models.SystemConfig
}

func (d *DB) Load(ctx context.Context) (*models.SystemConfig, error) {
	return d.load(ctx, false)
}

func (d *DB) load(ctx context.Context, forUpdate bool) (*models.SystemConfig, error) {
	conn := database.Conn(ctx, d.Bun)
	selectRow := func(cfg *models.SystemConfig) error {
		q := conn.NewSelect().Model(cfg).Where("id = ?", singletonID).Limit(1)
		if forUpdate && d.Bun.Dialect().Name() == dialect.PG {
			q = q.For("UPDATE")
		}
		return q.Scan(ctx)
	}

	var cfg models.SystemConfig
	err := selectRow(&cfg)
	if err == nil {
		return &cfg, nil
	}
	if !database.IsNoRows(err) {
		return nil, err
	}

	seed := d.Defaults
	seed.ID = singletonID
	if _, err := conn.NewInsert().Model(&seed).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return nil, fmt.Errorf("seed system config: %w", err)
	}
	if err := selectRow(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (d *DB) Update(ctx context.Context, fn func(cfg *models.SystemConfig) error) (*models.SystemConfig, error) {
	var out *models.SystemConfig
	err := database.WithTx(ctx, d.Bun, func(ctx context.Context) error {
		cfg, err := d.load(ctx, true)
		if err != nil {
			return err
		}
		if err := fn(cfg); err != nil {
			return err
		}
		cfg.ID = singletonID
		_, err = database.Conn(ctx, d.Bun).NewUpdate().
			Model(cfg).
			Column("maintenance_mode", "active_features", "delivery_fee", "platform_fee", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("save system config: %w", err)
		}
		out = cfg
		return nil
	})
	return out, err
}
