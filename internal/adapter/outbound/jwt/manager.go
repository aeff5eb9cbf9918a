// Package jwt implements the token signer on golang-jwt, covering HS256
// with a shared secret and RS256 with an RSA keypair.
package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/token"
)

// Supported signing algorithms.
const (
	AlgHS256 = "HS256"
	AlgRS256 = "RS256"
)

// Config carries the signing setup for a Manager. Key material arrives as
// the configuration delivered it: PEM text, or base64-wrapped PEM.
type Config struct {
	Algorithm     string
	Secret        string
	PrivateKeyPEM string
	PublicKeyPEM  string
	Issuer        string
	Audience      string
	DefaultTTL    time.Duration

	// AllowGeneratedKeys permits an in-process RSA keypair when RS256 is
	// configured without key material. Development only: the generated
	// public key is not stable across restarts and must not be trusted by
	// external verifiers.
	AllowGeneratedKeys bool
}

// Manager signs, verifies, and refreshes tokens under one fixed algorithm.
type Manager struct {
	algorithm  string
	issuer     string
	audience   string
	defaultTTL time.Duration
	logger     *slog.Logger

	secret     []byte
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	generated  bool
}

// NewManager loads key material per cfg.Algorithm and returns a ready
// Manager. Missing HS256 secrets and missing RS256 keys outside of
// generated-key mode are errors; the caller treats them as fatal.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	m := &Manager{
		algorithm:  cfg.Algorithm,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		defaultTTL: cfg.DefaultTTL,
		logger:     logger,
	}
	if m.defaultTTL <= 0 {
		m.defaultTTL = 30 * time.Minute
	}

	switch cfg.Algorithm {
	case AlgHS256:
		if cfg.Secret == "" {
			return nil, errors.New("jwt secret is required for HS256")
		}
		m.secret = []byte(cfg.Secret)

	case AlgRS256:
		if cfg.PrivateKeyPEM != "" && cfg.PublicKeyPEM != "" {
			if err := m.loadRSAKeys(cfg.PrivateKeyPEM, cfg.PublicKeyPEM); err != nil {
				return nil, err
			}
		} else if cfg.AllowGeneratedKeys {
			if err := m.generateRSAKeys(); err != nil {
				return nil, err
			}
			logger.Warn("generated RSA keypair for development; configure JWT_PRIVATE_KEY and JWT_PUBLIC_KEY in production")
		} else {
			return nil, errors.New("rsa private and public keys are required for RS256")
		}

	default:
		return nil, fmt.Errorf("unsupported jwt algorithm %q", cfg.Algorithm)
	}

	logger.Info("jwt manager initialized", "algorithm", m.algorithm, "issuer", m.issuer)
	return m, nil
}

func (m *Manager) loadRSAKeys(privatePEM, publicPEM string) error {
	privateData, err := decodePEM(privatePEM)
	if err != nil {
		return fmt.Errorf("private key: %w", err)
	}
	publicData, err := decodePEM(publicPEM)
	if err != nil {
		return fmt.Errorf("public key: %w", err)
	}

	m.privateKey, err = jwt.ParseRSAPrivateKeyFromPEM(privateData)
	if err != nil {
		return fmt.Errorf("parse rsa private key: %w", err)
	}
	m.publicKey, err = jwt.ParseRSAPublicKeyFromPEM(publicData)
	if err != nil {
		return fmt.Errorf("parse rsa public key: %w", err)
	}
	return nil
}

func (m *Manager) generateRSAKeys() error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generate rsa keypair: %w", err)
	}
	m.privateKey = key
	m.publicKey = &key.PublicKey
	m.generated = true
	return nil
}

// decodePEM unwraps base64-encoded key material. "LS0t" is base64 for
// "---", the start of a PEM header, so it marks a wrapped key.
func decodePEM(data string) ([]byte, error) {
	if strings.HasPrefix(data, "LS0t") {
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("decode base64 key: %w", err)
		}
		return decoded, nil
	}
	return []byte(data), nil
}

// Issue signs a token carrying payload plus fresh iat, exp, iss, and aud
// claims. A payload key with the same name overrides the standard claim.
// ttl <= 0 falls back to the configured default lifetime.
func (m *Manager) Issue(payload map[string]any, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	now := time.Now().UTC()

	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"iss": m.issuer,
		"aud": m.audience,
	}
	for k, v := range payload {
		claims[k] = v
	}

	var (
		tok *jwt.Token
		key any
	)
	switch m.algorithm {
	case AlgHS256:
		tok = jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		key = m.secret
	case AlgRS256:
		tok = jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		key = m.privateKey
	default:
		return "", fmt.Errorf("unsupported jwt algorithm %q", m.algorithm)
	}

	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	m.logger.Info("token issued",
		"sub", claims["sub"], "algorithm", m.algorithm, "expires_in", ttl)
	return signed, nil
}

// Verify checks signature, lifetime, issuer, and audience, and returns the
// decoded claims. Expired tokens map to token.ErrTokenExpired; every other
// failure wraps token.ErrTokenInvalid with the underlying cause.
func (m *Manager) Verify(tokenString string) (map[string]any, error) {
	tok, err := jwt.Parse(tokenString, m.verifyKey,
		jwt.WithValidMethods([]string{m.algorithm}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			m.logger.Warn("token expired", "algorithm", m.algorithm)
			return nil, token.ErrTokenExpired
		}
		m.logger.Warn("token rejected", "algorithm", m.algorithm, "error", err)
		return nil, fmt.Errorf("%w: %v", token.ErrTokenInvalid, err)
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, token.ErrTokenInvalid
	}
	return map[string]any(claims), nil
}

func (m *Manager) verifyKey(t *jwt.Token) (any, error) {
	switch m.algorithm {
	case AlgHS256:
		return m.secret, nil
	case AlgRS256:
		return m.publicKey, nil
	}
	return nil, fmt.Errorf("unsupported jwt algorithm %q", m.algorithm)
}

// Refresh verifies the token, drops the time and issuer claims, and signs
// the remaining payload with a fresh lifetime. Invalid or expired input is
// rejected with the corresponding verification error.
func (m *Manager) Refresh(tokenString string, ttl time.Duration) (string, error) {
	claims, err := m.Verify(tokenString)
	if err != nil {
		return "", err
	}

	payload := make(map[string]any, len(claims))
	for k, v := range claims {
		switch k {
		case "iat", "exp", "iss", "aud":
		default:
			payload[k] = v
		}
	}
	return m.Issue(payload, ttl)
}

// DecodeUnverified decodes claims without checking the signature. Useful
// for inspection endpoints; never part of an authorization decision.
func (m *Manager) DecodeUnverified(tokenString string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", token.ErrTokenInvalid, err)
	}
	return map[string]any(claims), nil
}

// PublicKeyPEM exports the RS256 verification key as PEM for external
// verifiers. Returns token.ErrNoPublicKey under HS256.
func (m *Manager) PublicKeyPEM() (string, error) {
	if m.algorithm != AlgRS256 || m.publicKey == nil {
		return "", token.ErrNoPublicKey
	}

	der, err := x509.MarshalPKIXPublicKey(m.publicKey)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// Algorithm names the signing algorithm in use.
func (m *Manager) Algorithm() string {
	return m.algorithm
}

// KeysGenerated reports whether the RSA keypair was generated in-process
// rather than loaded from configuration.
func (m *Manager) KeysGenerated() bool {
	return m.generated
}

// Compile-time interface verification.
var _ token.Signer = (*Manager)(nil)
