package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtinfra "github.com/go-api-notify/internal/infrastructure/jwt"
	"github.com/go-api-notify/internal/infrastructure/jwt/jwttest"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T) *jwtinfra.Provider {
	t.Helper()
	cfg, _ := jwttest.Keys(t, true)
	p, err := jwtinfra.NewProvider(cfg)
	require.NoError(t, err)
	return p
}

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestAuth_Rejects(t *testing.T) {
	p := newTestProvider(t)

	_, foreignKey := jwttest.Keys(t, true)
	expired := jwt.NewWithClaims(jwt.SigningMethodRS256, &jwtinfra.Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	foreign, err := expired.SignedString(foreignKey)
	require.NoError(t, err)

	cases := map[string]string{
		"missing header": "",
		"not bearer":     "Basic dTE6cHc=",
		"garbage token":  "Bearer not-a-real-token",
		"foreign key":    "Bearer " + foreign,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rr := httptest.NewRecorder()
			Auth(p)(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Contains(t, rr.Body.String(), `"error"`)
		})
	}
}

func TestAuth_ValidToken_InjectsClaims(t *testing.T) {
	p := newTestProvider(t)
	signed, err := p.Sign("u1", "employee")
	require.NoError(t, err)

	var got *jwtinfra.Claims
	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ClaimsFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	Auth(p)(capture).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "employee", got.Role)
}

func TestAuth_QueryTokenOnlyForWebsocketUpgrade(t *testing.T) {
	p := newTestProvider(t)
	signed, err := p.Sign("u1", "employee")
	require.NoError(t, err)

	plain := httptest.NewRequest(http.MethodGet, "/v1/realtime?access_token="+signed, nil)
	rr := httptest.NewRecorder()
	Auth(p)(http.HandlerFunc(okHandler)).ServeHTTP(rr, plain)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	upgrade := httptest.NewRequest(http.MethodGet, "/v1/realtime?access_token="+signed, nil)
	upgrade.Header.Set("Connection", "Upgrade")
	upgrade.Header.Set("Upgrade", "websocket")
	rr = httptest.NewRecorder()
	Auth(p)(http.HandlerFunc(okHandler)).ServeHTTP(rr, upgrade)
	assert.Equal(t, http.StatusOK, rr.Code)
}
