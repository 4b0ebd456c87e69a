package auth

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"authhub/internal/apperr"
)

func newTestSigner(t *testing.T, opts ...SignerOption) *RS256Signer {
	t.Helper()
	key, err := GenerateRSAKey()
	if err != nil {
		t.Fatalf("GenerateRSAKey() error = %v", err)
	}
	base := []SignerOption{WithRSAKey(key), WithKeyID("kid-1"), WithIssuer("authhub")}
	s, err := NewRS256Signer(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewRS256Signer() error = %v", err)
	}
	return s
}

func TestSignAndVerifyAccessToken(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	s := newTestSigner(t, WithSignerClock(func() time.Time { return now }))
	claims := Claims{
		UserID:      "u-1",
		TenantID:    "t-1",
		Email:       "a@b.test",
		Roles:       []string{"TENANT_ADMIN"},
		Permissions: []string{"rbac:manage"},
	}

	token, exp, err := s.SignAccess(context.Background(), claims, now)
	if err != nil {
		t.Fatalf("SignAccess() error = %v", err)
	}
	if !exp.Equal(now.Add(defaultAccessTTL)) {
		t.Fatalf("expiry = %v, want %v", exp, now.Add(defaultAccessTTL))
	}
	got, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got.UserID != "u-1" || got.TenantID != "t-1" || !got.HasPermission("rbac:manage") {
		t.Fatalf("unexpected claims: %+v", got)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	current := now
	s := newTestSigner(t, WithSignerClock(func() time.Time { return current }))

	token, _, err := s.SignAccess(context.Background(), Claims{UserID: "u-1"}, now)
	if err != nil {
		t.Fatal(err)
	}
	current = now.Add(time.Hour)
	if _, err := s.Verify(token); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("Verify() error = %v, want Unauthenticated", err)
	}
}

func TestVerifyRejectsForeignSigner(t *testing.T) {
	a := newTestSigner(t)
	b := newTestSigner(t)
	token, _, err := a.SignAccess(context.Background(), Claims{UserID: "u-1"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Verify(token); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("Verify() error = %v, want Unauthenticated", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	key, err := GenerateRSAKey()
	if err != nil {
		t.Fatal(err)
	}
	issuer, _ := NewRS256Signer(WithRSAKey(key), WithIssuer("someone-else"))
	verifier, _ := NewRS256Signer(WithRSAKey(key), WithIssuer("authhub"))

	token, _, err := issuer.SignAccess(context.Background(), Claims{UserID: "u-1"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("Verify() accepted a token from another issuer")
	}
}

func TestSignAccessWithoutKey(t *testing.T) {
	s, err := NewRS256Signer()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.SignAccess(context.Background(), Claims{UserID: "u-1"}, time.Now()); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("SignAccess() error = %v, want Unavailable", err)
	}
	if _, err := s.Verify("x.y.z"); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("Verify() error = %v, want Unauthenticated", err)
	}
}

func TestSignRefreshIsRandom(t *testing.T) {
	s := newTestSigner(t, WithRefreshTTL(time.Hour))
	now := time.Now()
	a, exp, err := s.SignRefresh(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	b, _, _ := s.SignRefresh(context.Background(), now)
	if a == b {
		t.Fatal("two refresh tokens are identical")
	}
	if raw, err := base64.RawURLEncoding.DecodeString(a); err != nil || len(raw) != 32 {
		t.Fatalf("refresh token is not 32 url-safe bytes: %q (%v)", a, err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("expiry = %v", exp)
	}
}

func TestPublicKeysDescribeSigningKey(t *testing.T) {
	s := newTestSigner(t)
	keys := s.PublicKeys()
	if len(keys) != 1 {
		t.Fatalf("PublicKeys() returned %d keys", len(keys))
	}
	k := keys[0]
	if k.Kid != "kid-1" || k.Kty != "RSA" || k.Alg != "RS256" || k.Use != "sig" {
		t.Fatalf("unexpected key: %+v", k)
	}
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		t.Fatal(err)
	}
	if new(big.Int).SetBytes(n).Cmp(s.publicKey.N) != 0 {
		t.Fatal("modulus does not match the signing key")
	}
	if k.E != "AQAB" {
		t.Fatalf("exponent = %q, want AQAB", k.E)
	}
}

func TestWithRS256KeysParsesPEM(t *testing.T) {
	key, err := GenerateRSAKey()
	if err != nil {
		t.Fatal(err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	privPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))

	if _, err := NewRS256Signer(WithRS256Keys(privPEM, pubPEM)); err != nil {
		t.Fatalf("NewRS256Signer() error = %v", err)
	}

	other, _ := GenerateRSAKey()
	otherDER, _ := x509.MarshalPKIXPublicKey(&other.PublicKey)
	otherPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: otherDER}))
	if _, err := NewRS256Signer(WithRS256Keys(privPEM, otherPEM)); err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Fatalf("mismatched pair error = %v", err)
	}
}
