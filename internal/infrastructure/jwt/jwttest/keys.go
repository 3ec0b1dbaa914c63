// Package jwttest writes throwaway RS256 key pairs for tests.
package jwttest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-api-notify/internal/config"
	"github.com/stretchr/testify/require"
)

// Keys generates a key pair under t.TempDir and returns a config pointing at
// it. With signing false only the public key is written.
func Keys(t testing.TB, signing bool) (*config.Config, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := &config.Config{
		JWTPrivateKeyPath: filepath.Join(dir, "private.pem"),
		JWTPublicKeyPath:  filepath.Join(dir, "public.pem"),
		JWTExpiry:         time.Hour,
	}
	if signing {
		writePEM(t, cfg.JWTPrivateKeyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	writePEM(t, cfg.JWTPublicKeyPath, "PUBLIC KEY", pub)
	return cfg, key
}

func writePEM(t testing.TB, path, blockType string, der []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), 0o600))
}
