package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ms-marketplace/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	keyCheckoutLock   = "checkout_lock:%s"
	keyReleaseFails   = "release_attempts:%s"
	keyReleaseLockout = "release_lock:%s"
	keyPaymentDedup   = "dedup:payment:%s"
)

type Redis struct {
	Client *redis.Client
	Logger *logger.Logger

	MaxAttempts int
	Lockout     time.Duration

	owner string
}

func NewRedis(client *redis.Client, log *logger.Logger, maxAttempts int, lockout time.Duration) *Redis {
	if log == nil {
		log = logger.Discard()
	}
	return &Redis{
		Client:      client,
		Logger:      log,
		MaxAttempts: maxAttempts,
		Lockout:     lockout,
		owner:       uuid.NewString(),
	}
}

// ---------------- CHECKOUT LOCK ----------------

// AcquireCheckout takes the per-key checkout lock. false means another attempt
// holds it.
func (r *Redis) AcquireCheckout(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.Client.SetNX(ctx, fmt.Sprintf(keyCheckoutLock, key), r.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire checkout lock: %w", err)
	}
	return ok, nil
}

var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// ReleaseCheckout only deletes the lock if this instance still owns it.
func (r *Redis) ReleaseCheckout(ctx context.Context, key string) error {
	err := releaseIfOwner.Run(ctx, r.Client, []string{fmt.Sprintf(keyCheckoutLock, key)}, r.owner).Err()
	if err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// ---------------- RELEASE KEY ATTEMPTS ----------------

func (r *Redis) IsLockedOut(ctx context.Context, orderID string) (bool, error) {
	n, err := r.Client.Exists(ctx, fmt.Sprintf(keyReleaseLockout, orderID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordFailure counts a failed redemption and starts the lockout once the
// limit is reached. It reports whether the order is now locked out.
func (r *Redis) RecordFailure(ctx context.Context, orderID string) (bool, error) {
	countKey := fmt.Sprintf(keyReleaseFails, orderID)
	pipe := r.Client.TxPipeline()
	incr := pipe.Incr(ctx, countKey)
	pipe.Expire(ctx, countKey, r.Lockout)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("record release failure: %w", err)
	}

	if incr.Val() < int64(r.MaxAttempts) {
		return false, nil
	}
	lockKey := fmt.Sprintf(keyReleaseLockout, orderID)
	if err := r.Client.Set(ctx, lockKey, strconv.FormatInt(incr.Val(), 10), r.Lockout).Err(); err != nil {
		return false, err
	}
	r.Client.Del(ctx, countKey)
	r.Logger.LogSecurity("RELEASE_LOCKOUT", fmt.Sprintf("order %s locked for %s after %d failed attempts", orderID, r.Lockout, incr.Val()))
	return true, nil
}

func (r *Redis) ResetFailures(ctx context.Context, orderID string) error {
	return r.Client.Del(ctx, fmt.Sprintf(keyReleaseFails, orderID)).Err()
}

// ---------------- EVENT DEDUP ----------------

// MarkProcessed returns false if the payment event was already seen.
func (r *Redis) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return r.Client.SetNX(ctx, fmt.Sprintf(keyPaymentDedup, eventID), "1", ttl).Result()
}

// Forget undoes MarkProcessed when handling failed and the event must be retried.
func (r *Redis) Forget(ctx context.Context, eventID string) error {
	return r.Client.Del(ctx, fmt.Sprintf(keyPaymentDedup, eventID)).Err()
}
