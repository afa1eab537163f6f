package sysconfig

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/clock"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"

	"github.com/go-redis/redis/v8"
)

const InvalidateChannel = "marketplace:config:invalidate"

type snapshot struct {
	cfg      models.SystemConfig
	loadedAt time.Time
}

// Gate serves the system config from an in-process snapshot. Reads are a
// single atomic load; once the snapshot is older than ttl exactly one caller
// reloads it while the rest keep reading the old one.
type Gate struct {
	store  Store
	ttl    time.Duration
	clock  clock.Clock
	logger *logger.Logger
	redis  *redis.Client

	current    atomic.Pointer[snapshot]
	refreshing atomic.Bool
}

func NewGate(store Store, ttl time.Duration, clk clock.Clock, log *logger.Logger) *Gate {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Gate{store: store, ttl: ttl, clock: clk, logger: log}
}

// WithRedis enables cross-instance invalidation on Set.
func (g *Gate) WithRedis(client *redis.Client) *Gate {
	g.redis = client
	return g
}

func (g *Gate) Current(ctx context.Context) (models.SystemConfig, error) {
	snap := g.current.Load()
	if snap == nil {
		return g.reload(ctx)
	}
	if g.clock.Now().Sub(snap.loadedAt) > g.ttl && g.refreshing.CompareAndSwap(false, true) {
		defer g.refreshing.Store(false)
		cfg, err := g.reload(ctx)
		if err != nil {
			g.logger.Warn("CONFIG", fmt.Sprintf("refresh failed, serving previous snapshot: %v", err))
			return snap.cfg, nil
		}
		return cfg, nil
	}
	return snap.cfg, nil
}

func (g *Gate) reload(ctx context.Context) (models.SystemConfig, error) {
	cfg, err := g.store.Load(ctx)
	if err != nil {
		return models.SystemConfig{}, err
	}
	g.current.Store(&snapshot{cfg: *cfg, loadedAt: g.clock.Now()})
	return *cfg, nil
}

// Check is consulted first by every protected operation.
func (g *Gate) Check(ctx context.Context, p models.Principal, feature string) error {
	if p.Can(models.CapBypassGate) {
		return nil
	}
	cfg, err := g.Current(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindServiceUnavailable, err, "configuration unavailable, please retry later")
	}
	if cfg.MaintenanceMode {
		return apperr.Unavailable("marketplace is under maintenance, please retry later")
	}
	if !cfg.HasFeature(feature) {
		return apperr.Unavailable("%s is temporarily disabled", feature)
	}
	return nil
}

// Set applies a patch, swaps the local snapshot and tells other instances to
// drop theirs.
func (g *Gate) Set(ctx context.Context, p models.Principal, patch models.ConfigPatch) (models.SystemConfig, error) {
	if !p.Can(models.CapManageConfig) {
		return models.SystemConfig{}, apperr.Forbidden("not allowed to change system config")
	}
	cfg, err := g.store.Update(ctx, func(cfg *models.SystemConfig) error {
		if err := applyPatch(cfg, patch); err != nil {
			return err
		}
		cfg.UpdatedAt = g.clock.Now()
		return nil
	})
	if err != nil {
		return models.SystemConfig{}, err
	}
	g.current.Store(&snapshot{cfg: *cfg, loadedAt: g.clock.Now()})
	g.logger.Info("CONFIG", fmt.Sprintf("config updated by %s: maintenance=%t features=%v", p.ID, cfg.MaintenanceMode, cfg.ActiveFeatures))

	if g.redis != nil {
		if err := g.redis.Publish(ctx, InvalidateChannel, p.ID).Err(); err != nil {
			g.logger.Warn("CONFIG", fmt.Sprintf("invalidate broadcast failed, peers refresh on ttl: %v", err))
		}
	}
	return *cfg, nil
}

// Invalidate marks the snapshot stale so the next read reloads it.
func (g *Gate) Invalidate() {
	if snap := g.current.Load(); snap != nil {
		g.current.Store(&snapshot{cfg: snap.cfg})
	}
}

// Subscribe listens for invalidations until ctx is done.
func (g *Gate) Subscribe(ctx context.Context) {
	if g.redis == nil {
		return
	}
	sub := g.redis.Subscribe(ctx, InvalidateChannel)
	if _, err := sub.Receive(ctx); err != nil {
		g.logger.Error("CONFIG", fmt.Sprintf("subscribe to %s failed: %v", InvalidateChannel, err))
		return
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				g.logger.Debug("CONFIG", fmt.Sprintf("invalidated by %s", msg.Payload))
				g.Invalidate()
			}
		}
	}()
}

var knownFeatures = map[string]bool{}

func init() {
	for _, f := range models.AllFeatures {
		knownFeatures[f] = true
	}
}

func applyPatch(cfg *models.SystemConfig, patch models.ConfigPatch) error {
	if patch.MaintenanceMode != nil {
		cfg.MaintenanceMode = *patch.MaintenanceMode
	}
	if patch.ActiveFeatures != nil {
		features := make([]string, 0, len(*patch.ActiveFeatures))
		for _, f := range *patch.ActiveFeatures {
			if !knownFeatures[f] {
				return apperr.Validation("unknown feature %q", f)
			}
			features = append(features, f)
		}
		cfg.ActiveFeatures = features
	}
	if patch.DeliveryFee != nil {
		if *patch.DeliveryFee < 0 {
			return apperr.Validation("delivery_fee cannot be negative")
		}
		cfg.DeliveryFee = *patch.DeliveryFee
	}
	if patch.PlatformFee != nil {
		if *patch.PlatformFee < 0 {
			return apperr.Validation("platform_fee cannot be negative")
		}
		cfg.PlatformFee = *patch.PlatformFee
	}
	return nil
}
