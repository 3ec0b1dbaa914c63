package http

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-api-notify/internal/config"
	jwtinfra "github.com/go-api-notify/internal/infrastructure/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProvider(t *testing.T) *jwtinfra.Provider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	dir := t.TempDir()
	cfg := &config.Config{
		JWTPrivateKeyPath: filepath.Join(dir, "private.pem"),
		JWTPublicKeyPath:  filepath.Join(dir, "public.pem"),
		JWTExpiry:         time.Hour,
	}
	require.NoError(t, os.WriteFile(cfg.JWTPrivateKeyPath,
		pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}), 0600))
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg.JWTPublicKeyPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub}), 0600))
	p, err := jwtinfra.NewProvider(cfg)
	require.NoError(t, err)
	return p
}

func serve(h http.Handler, method, target, token string) int {
	r := httptest.NewRequest(method, target, nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	return rr.Code
}

func TestRouter_PublicAndProtected(t *testing.T) {
	p := testProvider(t)
	cfg := &config.Config{AllowedOrigins: []string{"*"}}
	router := NewRouter(cfg, &Deps{JWTProvider: p})

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/v1/health-check/ping", ""))
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/v1/notifications/push/vapid-public-key", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/v1/notifications", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPatch, "/v1/notifications/mark-all-read", ""))

	employee, err := p.Sign("u1", "employee")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodPost, "/v1/admin/notifications", employee))
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/v1/video-interviews/join-status", employee))
}

func TestRouter_NoJWTProvider_Unavailable(t *testing.T) {
	router := NewRouter(&config.Config{AllowedOrigins: []string{"*"}}, &Deps{})
	assert.Equal(t, http.StatusServiceUnavailable, serve(router, http.MethodGet, "/v1/notifications", ""))
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/v1/health-check/ping", ""))
}
