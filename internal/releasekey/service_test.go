package releasekey_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/ledger"
	"ms-marketplace/internal/models"
	orderdb "ms-marketplace/internal/order/db"
	orderredis "ms-marketplace/internal/order/redis"
	"ms-marketplace/internal/releasekey"
	"ms-marketplace/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type fixedGate struct {
	cfg models.SystemConfig
}

func (g fixedGate) Check(_ context.Context, p models.Principal, feature string) error {
	if p.Can(models.CapBypassGate) || g.cfg.HasFeature(feature) {
		return nil
	}
	return apperr.Unavailable("%s is temporarily disabled", feature)
}

func (g fixedGate) Current(context.Context) (models.SystemConfig, error) { return g.cfg, nil }

type fixture struct {
	db     *bun.DB
	orders *orderdb.DB
	ledger *ledger.Service
	svc    *releasekey.Service
}

func setup(t *testing.T, platformFee int64) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	client, _ := testutil.NewRedis(t)
	cfg := testutil.DefaultConfig()
	cfg.PlatformFee = platformFee
	gate := fixedGate{cfg: cfg}

	orders := &orderdb.DB{Bun: db}
	led := ledger.NewService(db, gate, nil, nil, nil)
	limiter := orderredis.NewRedis(client, nil, 5, 15*time.Minute)
	svc := releasekey.NewService(db, orders, led, limiter, gate, nil, "test-pepper", nil, nil)
	return &fixture{db: db, orders: orders, ledger: led, svc: svc}
}

func (f *fixture) seedOrder(t *testing.T, id string, ft models.FulfillmentType, status models.OrderStatus, amount int64) *models.Order {
	t.Helper()
	now := time.Now().UTC()
	o := &models.Order{
		ID:              id,
		OrderGroupID:    "g-" + id,
		BuyerID:         "buyer",
		VendorID:        "vendor",
		Amount:          amount,
		FulfillmentType: ft,
		Status:          status,
		EscrowStatus:    models.EscrowHeld,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := f.db.NewInsert().Model(o).Exec(context.Background())
	require.NoError(t, err)
	return o
}

func wrongCode(code string) string {
	b := []byte(code)
	b[0] = '0' + (b[0]-'0'+1)%10
	return string(b)
}

func TestRedeemReleasesEscrowAndCreditsVendor(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	f.seedOrder(t, "o1", models.FulfillmentPickup, models.OrderReady, 4000)

	code, err := f.svc.Issue(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, code, 6)

	require.NoError(t, f.svc.Redeem(ctx, testutil.Vendor("vendor"), "o1", code))

	o, err := f.orders.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPickedUp, o.Status)
	assert.Equal(t, models.EscrowReleased, o.EscrowStatus)

	l, err := f.ledger.GetLedger(ctx, "vendor")
	require.NoError(t, err)
	assert.Equal(t, int64(4000), l.Balance)
}

func TestRedeemDeductsPlatformFee(t *testing.T) {
	f := setup(t, 100)
	ctx := context.Background()
	f.seedOrder(t, "o1", models.FulfillmentDelivery, models.OrderShipped, 3500)

	code, err := f.svc.Issue(ctx, "o1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Redeem(ctx, testutil.Runner("runner-1"), "o1", code))

	o, err := f.orders.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderShipped, o.Status)
	assert.Equal(t, models.EscrowReleased, o.EscrowStatus)

	l, err := f.ledger.GetLedger(ctx, "vendor")
	require.NoError(t, err)
	assert.Equal(t, int64(3400), l.Balance)
}

func TestRedeemTwiceIsExpired(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	f.seedOrder(t, "o1", models.FulfillmentPickup, models.OrderReady, 2000)

	code, err := f.svc.Issue(ctx, "o1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Redeem(ctx, testutil.Vendor("vendor"), "o1", code))

	err = f.svc.Redeem(ctx, testutil.Vendor("vendor"), "o1", code)
	assert.ErrorIs(t, err, apperr.ErrExpiredKey)

	l, err := f.ledger.GetLedger(ctx, "vendor")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), l.Balance)
}

func TestConcurrentRedeemCreditsOnce(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	f.seedOrder(t, "o1", models.FulfillmentPickup, models.OrderReady, 2000)
	code, err := f.svc.Issue(ctx, "o1")
	require.NoError(t, err)

	const attempts = 4
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.Redeem(ctx, testutil.Vendor("vendor"), "o1", code)
		}(i)
	}
	wg.Wait()

	var ok, expired int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.KindOf(err) == apperr.KindExpiredKey:
			expired++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, expired)

	l, err := f.ledger.GetLedger(ctx, "vendor")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), l.Balance)
}

func TestWrongCodeLocksOut(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	f.seedOrder(t, "o1", models.FulfillmentPickup, models.OrderReady, 2000)
	code, err := f.svc.Issue(ctx, "o1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		err := f.svc.Redeem(ctx, testutil.Vendor("vendor"), "o1", wrongCode(code))
		assert.ErrorIs(t, err, apperr.ErrDenied)
	}

	// the right code is refused during lockout
	err = f.svc.Redeem(ctx, testutil.Vendor("vendor"), "o1", code)
	assert.ErrorIs(t, err, apperr.ErrDenied)

	o, err := f.orders.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.EscrowHeld, o.EscrowStatus)
}

func TestRedeemRejections(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	f.seedOrder(t, "pickup", models.FulfillmentPickup, models.OrderReady, 2000)
	f.seedOrder(t, "early", models.FulfillmentPickup, models.OrderPreparing, 2000)
	code, err := f.svc.Issue(ctx, "pickup")
	require.NoError(t, err)
	earlyCode, err := f.svc.Issue(ctx, "early")
	require.NoError(t, err)

	tests := []struct {
		name    string
		p       models.Principal
		orderID string
		code    string
		want    error
	}{
		{"malformed code", testutil.Vendor("vendor"), "pickup", "12ab", apperr.ErrDenied},
		{"unknown order", testutil.Vendor("vendor"), "missing", "123456", apperr.ErrDenied},
		{"other vendor", testutil.Vendor("someone"), "pickup", code, apperr.ErrDenied},
		{"runner on pickup order", testutil.Runner("r1"), "pickup", code, apperr.ErrDenied},
		{"not ready yet", testutil.Vendor("vendor"), "early", earlyCode, apperr.ErrStateConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.Redeem(ctx, tt.p, tt.orderID, tt.code)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	require.NoError(t, f.svc.Redeem(ctx, testutil.Vendor("vendor"), "pickup", code))
}

func TestReissueReplacesCode(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	f.seedOrder(t, "o1", models.FulfillmentPickup, models.OrderReady, 2000)
	old, err := f.svc.Issue(ctx, "o1")
	require.NoError(t, err)

	_, err = f.svc.Reissue(ctx, testutil.Buyer("stranger"), "o1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	fresh, err := f.svc.Reissue(ctx, testutil.Buyer("buyer"), "o1")
	require.NoError(t, err)
	assert.Len(t, fresh.Code, 6)
	assert.NotEmpty(t, fresh.QRPNG)

	if fresh.Code != old {
		err = f.svc.Redeem(ctx, testutil.Vendor("vendor"), "o1", old)
		assert.ErrorIs(t, err, apperr.ErrDenied)
	}
	require.NoError(t, f.svc.Redeem(ctx, testutil.Vendor("vendor"), "o1", fresh.Code))
}

func TestReleaseFeatureOff(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	f.seedOrder(t, "o1", models.FulfillmentPickup, models.OrderReady, 2000)
	code, err := f.svc.Issue(ctx, "o1")
	require.NoError(t, err)

	f.svc.Gate = fixedGate{cfg: models.SystemConfig{}}
	err = f.svc.Redeem(ctx, testutil.Vendor("vendor"), "o1", code)
	assert.ErrorIs(t, err, apperr.ErrServiceUnavailable)
}

// lostRaceStore loses the first order-state compare-and-set, as if another
// transition landed between the read and the write.
type lostRaceStore struct {
	*orderdb.DB
	lost bool
}

func (s *lostRaceStore) UpdateOrderState(ctx context.Context, id string, from, to models.OrderState, at time.Time) (bool, error) {
	if !s.lost {
		s.lost = true
		return false, nil
	}
	return s.DB.UpdateOrderState(ctx, id, from, to, at)
}

func TestLostStateRaceIsNotCountedAsFailure(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	f.seedOrder(t, "o1", models.FulfillmentPickup, models.OrderReady, 4000)

	client, _ := testutil.NewRedis(t)
	limiter := orderredis.NewRedis(client, nil, 1, 15*time.Minute)
	svc := releasekey.NewService(f.db, &lostRaceStore{DB: f.orders}, f.ledger, limiter, fixedGate{cfg: testutil.DefaultConfig()}, nil, "test-pepper", nil, nil)

	code, err := svc.Issue(ctx, "o1")
	require.NoError(t, err)

	err = svc.Redeem(ctx, testutil.Vendor("vendor"), "o1", code)
	assert.ErrorIs(t, err, apperr.ErrStateConflict)

	locked, err := limiter.IsLockedOut(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, locked)

	// the key survived the rollback and still works
	require.NoError(t, svc.Redeem(ctx, testutil.Vendor("vendor"), "o1", code))
	o, err := f.orders.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.EscrowReleased, o.EscrowStatus)
}
