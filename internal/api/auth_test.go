package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/susu3304/amanteslive/internal/account"
	"github.com/susu3304/amanteslive/internal/config"
	"github.com/susu3304/amanteslive/internal/ledger"
	"github.com/susu3304/amanteslive/internal/live"
	"github.com/susu3304/amanteslive/internal/market"
	"github.com/susu3304/amanteslive/internal/store/memory"
)

func TestParseUserInfo(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantID   string
		wantName string
		wantErr  bool
	}{
		{name: "oidc", body: `{"sub":"u1","preferred_username":"ana","picture":"http://x/a.png"}`, wantID: "u1", wantName: "ana"},
		{name: "discord style", body: `{"id":"42","username":"bia","avatar_url":"a"}`, wantID: "42", wantName: "bia"},
		{name: "nested", body: `{"user":{"id":"7","user_metadata":{"name":"carla"}}}`, wantID: "7", wantName: "carla"},
		{name: "username falls back to id", body: `{"sub":"u9"}`, wantID: "u9", wantName: "u9"},
		{name: "no subject", body: `{"username":"x"}`, wantErr: true},
		{name: "not json", body: `<html>`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := parseUserInfo([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, u.ID)
			assert.Equal(t, tt.wantName, u.Username)
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ledger.ErrInsufficientBalance, http.StatusPaymentRequired},
		{fmt.Errorf("debit: %w", ledger.ErrInsufficientBalance), http.StatusPaymentRequired},
		{live.ErrNotFound, http.StatusNotFound},
		{market.ErrPackageNotFound, http.StatusNotFound},
		{market.ErrAlreadySubscribed, http.StatusConflict},
		{live.ErrStreamerBusy, http.StatusConflict},
		{live.ErrNotOwner, http.StatusForbidden},
		{ledger.ErrSelfAttribution, http.StatusForbidden},
		{live.ErrInvalidCategory, http.StatusBadRequest},
		{ledger.ErrBalanceOverflow, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func newAuthAPI(t *testing.T, cfg *config.Config) *API {
	t.Helper()
	cfg.JWTSecret = "secret"
	return New(cfg, Services{Accounts: account.NewService(memory.New(), 1000)})
}

func TestAuthMiddleware(t *testing.T) {
	a := newAuthAPI(t, &config.Config{RateLimitPerSecond: 10, RateLimitBurst: 10})
	h := a.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(claimsFrom(r).UserID))
	}))

	serve := func(mutate func(r *http.Request)) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/wallet", nil)
		mutate(req)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	good, err := a.issueToken("u1", "ana")
	require.NoError(t, err)

	rec := serve(func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+good) })
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())

	rec = serve(func(r *http.Request) { r.URL.RawQuery = "token=" + good })
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(func(r *http.Request) { r.Header.Set("Authorization", good) })
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing Bearer prefix")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	})
	signed, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	rec = serve(func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+signed) })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{UserID: "u1"})
	signed, err = other.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	rec = serve(func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+signed) })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"sub":"oidc-1","preferred_username":"ana"}`))
	})
	idp := httptest.NewServer(mux)
	defer idp.Close()

	a := newAuthAPI(t, &config.Config{
		OAuthClientID:     "client",
		OAuthClientSecret: "shh",
		OAuthAuthURL:      idp.URL + "/authorize",
		OAuthTokenURL:     idp.URL + "/token",
		OAuthUserInfoURL:  idp.URL + "/userinfo",
	})

	token, user, err := a.authenticateUser(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "oidc-1", user.ID)
	assert.NotEmpty(t, token)

	profile, err := a.svc.Accounts.Get(context.Background(), "oidc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), profile.Balance)
	assert.Equal(t, "ana", profile.Username)
}

func TestGenerateRandomString(t *testing.T) {
	a, err := generateRandomString(32)
	require.NoError(t, err)
	b, err := generateRandomString(32)
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestLoginReturnsState(t *testing.T) {
	a := newAuthAPI(t, &config.Config{
		OAuthClientID: "client",
		OAuthAuthURL:  "https://idp.example/authorize",
		OAuthTokenURL: "https://idp.example/token",
	})
	rec := httptest.NewRecorder()
	a.handleLogin(rec, httptest.NewRequest("GET", "/api/auth/login", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body["state"], 32)
	assert.Contains(t, body["auth_url"], "state="+body["state"])
}

func TestLoginNotConfigured(t *testing.T) {
	a := newAuthAPI(t, &config.Config{})
	rec := httptest.NewRecorder()
	a.handleLogin(rec, httptest.NewRequest("GET", "/api/auth/login", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.getLimiter("a")
	rl.getLimiter("b")
	assert.Equal(t, 0, rl.Cleanup(time.Hour))
	assert.Equal(t, 2, rl.Cleanup(-time.Second))
}
