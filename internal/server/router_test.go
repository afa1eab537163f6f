package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/ledger"
	"ms-marketplace/internal/ledger/ledger_api"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/payment"
	"ms-marketplace/internal/sysconfig"
	"ms-marketplace/internal/sysconfig/config_api"
	"ms-marketplace/internal/testutil"
	"ms-marketplace/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const internalToken = "s3cret"

type testServer struct {
	handler http.Handler
	ledger  *ledger.Service
}

func newTestServer(t *testing.T, health func(context.Context) error) *testServer {
	t.Helper()
	db := testutil.NewDB(t)
	testutil.SeedConfig(t, db, testutil.DefaultConfig())
	gate := sysconfig.NewGate(&sysconfig.DB{Bun: db, Defaults: testutil.DefaultConfig()}, time.Minute, nil, nil)
	ledgerSvc := ledger.NewService(db, gate, nil, nil, nil)

	h := NewRouter(Handlers{
		Ledger:   ledger_api.NewHandler(ledgerSvc, nil),
		Config:   config_api.NewHandler(gate, nil),
		Payments: &payment.Handler{Processor: payment.NewProcessor(nil, nil, nil, time.Hour, nil, nil)},
	}, Options{
		Verifier:      auth.UnverifiedVerifier{},
		InternalToken: internalToken,
		Health:        health,
	})
	return &testServer{handler: h, ledger: ledgerSvc}
}

func bearer(t *testing.T, sub string, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub}
	if len(roles) > 0 {
		claims["realm_access"] = map[string]interface{}{"roles": roles}
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("dev-secret"))
	require.NoError(t, err)
	return "Bearer " + tok
}

func (s *testServer) call(t *testing.T, method, path, body string, headers map[string]string) (int, utils.APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	var resp utils.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	code, resp := s.call(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	down := newTestServer(t, func(context.Context) error { return errors.New("redis: connection refused") })
	code, resp = down.call(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.NotContains(t, resp.Error, "redis")
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s := newTestServer(t, nil)
	code, _ := s.call(t, http.MethodGet, "/api/vendors/me/ledger", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.call(t, http.MethodGet, "/api/vendors/me/ledger", "", map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestPayoutFlow(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, s.ledger.Credit(context.Background(), "v1", 5000))
	vendor := map[string]string{"Authorization": bearer(t, "v1", "vendor")}

	code, resp := s.call(t, http.MethodPost, "/api/vendors/me/payouts", `{"amount":3000,"payout_details":"momo 0241234567"}`, vendor)
	require.Equal(t, http.StatusCreated, code, resp.Error)
	payoutID := resp.Data.(map[string]interface{})["id"].(string)

	code, resp = s.call(t, http.MethodPost, "/api/vendors/me/payouts", `{"amount":3000,"payout_details":"momo 0241234567"}`, vendor)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "INSUFFICIENT_BALANCE", resp.Code)

	code, resp = s.call(t, http.MethodGet, "/api/vendors/me/ledger", "", vendor)
	require.Equal(t, http.StatusOK, code)
	l := resp.Data.(map[string]interface{})
	assert.EqualValues(t, 2000, l["balance"])
	assert.EqualValues(t, 3000, l["frozen_balance"])

	code, _ = s.call(t, http.MethodPost, "/api/admin/payouts/"+payoutID+"/settle", `{"status":"PROCESSED"}`, vendor)
	assert.Equal(t, http.StatusForbidden, code)

	admin := map[string]string{"Authorization": bearer(t, "ops-1", "admin")}
	code, resp = s.call(t, http.MethodPost, "/api/admin/payouts/"+payoutID+"/settle", `{"status":"PROCESSED"}`, admin)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, string(models.PayoutProcessed), resp.Data.(map[string]interface{})["status"])

	code, resp = s.call(t, http.MethodGet, "/api/vendors/me/payouts", "", vendor)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Data.([]interface{}), 1)
}

func TestBuyerCannotReadLedger(t *testing.T) {
	s := newTestServer(t, nil)
	code, _ := s.call(t, http.MethodGet, "/api/vendors/me/ledger", "", map[string]string{"Authorization": bearer(t, "b1")})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestAdminConfig(t *testing.T) {
	s := newTestServer(t, nil)
	admin := map[string]string{"Authorization": bearer(t, "ops-1", "admin")}
	buyer := map[string]string{"Authorization": bearer(t, "b1")}

	code, _ := s.call(t, http.MethodPatch, "/api/admin/config", `{"maintenance_mode":true}`, buyer)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.call(t, http.MethodGet, "/api/admin/config", "", buyer)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp := s.call(t, http.MethodPatch, "/api/admin/config", `{"maintenance_mode":true,"delivery_fee":700}`, admin)
	require.Equal(t, http.StatusOK, code, resp.Error)

	code, resp = s.call(t, http.MethodGet, "/api/admin/config", "", admin)
	require.Equal(t, http.StatusOK, code)
	cfg := resp.Data.(map[string]interface{})
	assert.Equal(t, true, cfg["maintenance_mode"])
	assert.EqualValues(t, 700, cfg["delivery_fee"])

	code, resp = s.call(t, http.MethodPatch, "/api/admin/config", `{"active_features":["teleport"]}`, admin)
	assert.Equal(t, http.StatusBadRequest, code, resp.Error)
}

func TestMaintenanceBlocksPayouts(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, s.ledger.Credit(context.Background(), "v1", 5000))
	admin := map[string]string{"Authorization": bearer(t, "ops-1", "admin")}
	code, _ := s.call(t, http.MethodPatch, "/api/admin/config", `{"maintenance_mode":true}`, admin)
	require.Equal(t, http.StatusOK, code)

	vendor := map[string]string{"Authorization": bearer(t, "v1", "vendor")}
	code, resp := s.call(t, http.MethodPost, "/api/vendors/me/payouts", `{"amount":100,"payout_details":"momo"}`, vendor)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Code)
}

func TestInternalRouteNeedsToken(t *testing.T) {
	s := newTestServer(t, nil)
	body := `{"event_id":"","payment_ref":"mp_1","status":"SUCCEEDED","amount":100}`

	code, _ := s.call(t, http.MethodPost, "/internal/payments/results", body, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.call(t, http.MethodPost, "/internal/payments/results", body, map[string]string{"X-Internal-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	// a bearer token is not enough
	code, _ = s.call(t, http.MethodPost, "/internal/payments/results", body, map[string]string{"Authorization": bearer(t, "ops-1", "admin")})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, resp := s.call(t, http.MethodPost, "/internal/payments/results", body, map[string]string{"X-Internal-Token": internalToken})
	assert.Equal(t, http.StatusBadRequest, code, resp.Error)
}
