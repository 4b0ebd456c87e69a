package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"authhub/internal/apperr"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14

	tokenTypeAccess = "access"
)

// RS256Signer signs access tokens with an RSA key and mints opaque refresh tokens.
type RS256Signer struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	keyID      string
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

var (
	_ TokenSigner   = (*RS256Signer)(nil)
	_ TokenVerifier = (*RS256Signer)(nil)
)

type accessClaims struct {
	Claims
	TokenType string `json:"tokenType"`
	jwt.RegisteredClaims
}

// SignerOption configures RS256Signer behavior.
type SignerOption func(*RS256Signer) error

// WithRS256Keys configures RSA keys used for signing and verifying JWTs.
func WithRS256Keys(privatePEM, publicPEM string) SignerOption {
	return func(s *RS256Signer) error {
		privatePEM = strings.TrimSpace(privatePEM)
		publicPEM = strings.TrimSpace(publicPEM)
		if privatePEM == "" || publicPEM == "" {
			return errors.New("auth: both private and public keys are required")
		}
		priv, err := parseRSAPrivateKey(privatePEM)
		if err != nil {
			return fmt.Errorf("auth: parse private key: %w", err)
		}
		pub, err := parseRSAPublicKey(publicPEM)
		if err != nil {
			return fmt.Errorf("auth: parse public key: %w", err)
		}
		if priv.PublicKey.N.Cmp(pub.N) != 0 || priv.PublicKey.E != pub.E {
			return errors.New("auth: public key does not match private key")
		}
		s.privateKey = priv
		s.publicKey = pub
		return nil
	}
}

// WithRSAKey uses an in-memory key, e.g. an ephemeral development key.
func WithRSAKey(key *rsa.PrivateKey) SignerOption {
	return func(s *RS256Signer) error {
		if key == nil {
			return errors.New("auth: rsa key is nil")
		}
		s.privateKey = key
		s.publicKey = &key.PublicKey
		return nil
	}
}

// WithKeyID sets the key identifier embedded into JWT headers.
func WithKeyID(kid string) SignerOption {
	return func(s *RS256Signer) error {
		s.keyID = strings.TrimSpace(kid)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) SignerOption {
	return func(s *RS256Signer) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) SignerOption {
	return func(s *RS256Signer) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) SignerOption {
	return func(s *RS256Signer) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithSignerClock overrides the time source used during verification.
func WithSignerClock(fn func() time.Time) SignerOption {
	return func(s *RS256Signer) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewRS256Signer constructs a signer. Without keys it still mints refresh
// tokens and reports an empty key set, but SignAccess fails.
func NewRS256Signer(opts ...SignerOption) (*RS256Signer, error) {
	s := &RS256Signer{
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// GenerateRSAKey creates a 2048-bit key for development setups.
func GenerateRSAKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}

// SignAccess signs claims as an RS256 JWT valid for the access TTL.
func (s *RS256Signer) SignAccess(_ context.Context, claims Claims, issuedAt time.Time) (string, time.Time, error) {
	if s.privateKey == nil {
		return "", time.Time{}, apperr.New(apperr.Unavailable, "token signing keys are not configured")
	}
	exp := issuedAt.Add(s.accessTTL)
	ac := accessClaims{
		Claims:    claims,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, ac)
	if s.keyID != "" {
		token.Header["kid"] = s.keyID
	}
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// SignRefresh mints an opaque 256-bit refresh token valid for the refresh TTL.
func (s *RS256Signer) SignRefresh(_ context.Context, issuedAt time.Time) (string, time.Time, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", time.Time{}, fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(secret), issuedAt.Add(s.refreshTTL), nil
}

// PublicKeys returns the verification key set, empty when no key is configured.
func (s *RS256Signer) PublicKeys() []JWK {
	if s.publicKey == nil {
		return []JWK{}
	}
	return []JWK{{
		Kid: s.keyID,
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(s.publicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(s.publicKey.E)).Bytes()),
	}}
}

// Verify checks signature, issuer, lifetime and token type of an access token.
func (s *RS256Signer) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" || s.publicKey == nil {
		return Claims{}, apperr.ErrUnauthenticated
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	var ac accessClaims
	parsed, err := jwt.ParseWithClaims(token, &ac, func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); s.keyID != "" && kid != s.keyID {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return s.publicKey, nil
	}, opts...)
	if err != nil {
		return Claims{}, apperr.Wrap(apperr.Unauthenticated, err, "invalid access token")
	}
	if !parsed.Valid {
		return Claims{}, apperr.New(apperr.Unauthenticated, "invalid access token")
	}
	if ac.TokenType != tokenTypeAccess || ac.Subject == "" || ac.Subject != ac.UserID {
		return Claims{}, apperr.New(apperr.Unauthenticated, "invalid access token")
	}
	return ac.Claims, nil
}

func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid PEM private key")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, errors.New("unsupported private key type")
	default:
		return nil, fmt.Errorf("unsupported private key type %s", block.Type)
	}
}

func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid PEM public key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported public key type %s", block.Type)
	}
}
