package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"ms-marketplace/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("dev-secret"))
	require.NoError(t, err)
	return tok
}

func serve(t *testing.T, header string) (*httptest.ResponseRecorder, models.Principal, bool) {
	t.Helper()
	var got models.Principal
	var seen bool
	h := Middleware(UnverifiedVerifier{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, seen = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/orders/1", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, got, seen
}

func TestMiddlewareBuyer(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{"sub": "u-1", "email": "ama@campus.edu"})
	rec, p, ok := serve(t, "Bearer "+tok)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, ok)
	assert.Equal(t, "u-1", p.ID)
	assert.Equal(t, "ama@campus.edu", p.Email)
	assert.Equal(t, models.RoleBuyer, p.Role)
	assert.False(t, p.Can(models.CapBypassGate))
}

func TestMiddlewareRealmRoles(t *testing.T) {
	tok := signToken(t, jwt.MapClaims{
		"sub":          "ops-1",
		"realm_access": map[string]interface{}{"roles": []string{"offline_access", "vendor", "admin"}},
	})
	_, p, ok := serve(t, "bearer "+tok)

	require.True(t, ok)
	assert.Equal(t, models.RoleAdmin, p.Role)
	assert.True(t, p.Can(models.CapBypassGate))
	assert.True(t, p.Can(models.CapSettlePayouts))
}

func TestMiddlewareRejects(t *testing.T) {
	noSub := signToken(t, jwt.MapClaims{"email": "x@y"})
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
		{"no subject", "Bearer " + noSub},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _, seen := serve(t, tt.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, seen)
		})
	}
}

func TestRequireInternal(t *testing.T) {
	h := RequireInternal("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/payments/results", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("X-Internal-Token", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireInternalDisabledWithoutToken(t *testing.T) {
	h := RequireInternal("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/internal/payments/results", nil)
	req.Header.Set("X-Internal-Token", "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
