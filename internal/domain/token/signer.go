package token

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for token verification and key handling.
var (
	// ErrTokenExpired is returned when a token's exp claim has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for any other verification failure:
	// bad signature, wrong issuer or audience, malformed token.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrNoPublicKey is returned when a public key export is requested
	// under a symmetric algorithm.
	ErrNoPublicKey = errors.New("no public key for symmetric algorithm")
)

// Sentinel errors for credential lookup.
var (
	// ErrCredentialNotFound is returned when no credential matches the id.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrSecretMismatch is returned when the presented secret does not
	// verify against the stored hash.
	ErrSecretMismatch = errors.New("secret mismatch")
)

// Signer issues and verifies compact-serialized signed tokens. Implementations
// cover HS256 (shared secret) and RS256 (RSA keypair); the algorithm is fixed
// per process.
type Signer interface {
	// Issue signs a token whose claims are payload plus fresh iat, exp,
	// iss, and aud values. The ttl bounds exp relative to now.
	Issue(payload map[string]any, ttl time.Duration) (string, error)

	// Verify checks signature, exp, iat, iss, and aud and returns the raw
	// claims. Expired tokens return ErrTokenExpired; anything else wrong
	// returns ErrTokenInvalid.
	Verify(tokenString string) (map[string]any, error)

	// Refresh verifies the token, strips its registered claims, and
	// re-issues with a fresh lifetime.
	Refresh(tokenString string, ttl time.Duration) (string, error)

	// DecodeUnverified structurally decodes claims without checking the
	// signature. Never used on an authorization path.
	DecodeUnverified(tokenString string) (map[string]any, error)

	// PublicKeyPEM exports the PEM-encoded verification key. Returns
	// ErrNoPublicKey under HS256.
	PublicKeyPEM() (string, error)

	// Algorithm names the signing algorithm in use ("HS256" or "RS256").
	Algorithm() string
}

// CredentialStore looks up static credential records for the two grant flows.
// Implementations must verify secrets in constant time.
type CredentialStore interface {
	// LookupClient finds a machine client by client id and verifies its
	// secret. Returns ErrCredentialNotFound or ErrSecretMismatch.
	LookupClient(ctx context.Context, clientID, clientSecret string) (*Credential, error)

	// LookupUser finds a human user by username and verifies the password.
	// Returns ErrCredentialNotFound or ErrSecretMismatch.
	LookupUser(ctx context.Context, username, password string) (*Credential, error)
}
