// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alexedwards/argon2id"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/token"
)

// hashParams are the Argon2id parameters for stored secrets.
// Memory: 47 MiB, one pass, per OWASP minimums.
var hashParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// CredentialStore implements token.CredentialStore with in-memory maps.
// Secrets are hashed on insert; plaintext is never retained.
// Thread-safe for concurrent access.
type CredentialStore struct {
	clients map[string]*token.Credential
	users   map[string]*token.Credential
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewCredentialStore creates an empty in-memory credential store.
func NewCredentialStore(logger *slog.Logger) *CredentialStore {
	return &CredentialStore{
		clients: make(map[string]*token.Credential),
		users:   make(map[string]*token.Credential),
		logger:  logger,
	}
}

// AddClient registers a machine client under cred.Subject. The secret is
// Argon2id-hashed before storage.
func (s *CredentialStore) AddClient(cred token.Credential, secret string) error {
	return s.add(s.clients, cred, secret)
}

// AddUser registers a human user under cred.Subject. The password is
// Argon2id-hashed before storage.
func (s *CredentialStore) AddUser(cred token.Credential, password string) error {
	return s.add(s.users, cred, password)
}

func (s *CredentialStore) add(table map[string]*token.Credential, cred token.Credential, secret string) error {
	if cred.Subject == "" {
		return errors.New("credential subject is required")
	}
	hash, err := argon2id.CreateHash(secret, hashParams)
	if err != nil {
		return fmt.Errorf("hash secret: %w", err)
	}
	cred.SecretHash = hash

	s.mu.Lock()
	defer s.mu.Unlock()
	table[cred.Subject] = cloneCredential(&cred)
	return nil
}

// LookupClient finds a client by id and verifies its secret.
func (s *CredentialStore) LookupClient(ctx context.Context, clientID, clientSecret string) (*token.Credential, error) {
	return s.lookup(s.clients, clientID, clientSecret)
}

// LookupUser finds a user by username and verifies the password.
func (s *CredentialStore) LookupUser(ctx context.Context, username, password string) (*token.Credential, error) {
	return s.lookup(s.users, username, password)
}

func (s *CredentialStore) lookup(table map[string]*token.Credential, subject, secret string) (*token.Credential, error) {
	s.mu.RLock()
	cred, ok := table[subject]
	s.mu.RUnlock()
	if !ok {
		return nil, token.ErrCredentialNotFound
	}

	// Verification runs outside the lock; stored entries are never mutated
	// in place, so the pointer stays valid.
	match, err := argon2id.ComparePasswordAndHash(secret, cred.SecretHash)
	if err != nil {
		return nil, fmt.Errorf("verify secret: %w", err)
	}
	if !match {
		return nil, token.ErrSecretMismatch
	}
	return cloneCredential(cred), nil
}

// SeedDefaults loads the canonical development credentials: the test_client
// and hr_app machine clients and the jdoe, agonzalez, and mrios users.
func (s *CredentialStore) SeedDefaults() error {
	clients := []struct {
		secret string
		cred   token.Credential
	}{
		{"test_secret", token.Credential{
			Subject: "test_client",
			Scopes:  []string{"read", "write"},
			Dept:    "IT", Groups: []string{"API_CLIENTS"}, RiskScore: 10,
		}},
		{"hr_secret_2024", token.Credential{
			Subject: "hr_app",
			Scopes:  []string{"read", "write", "hr:payroll"},
			Dept:    "HR", Groups: []string{"HR_READERS", "HR_WRITERS"}, RiskScore: 15,
		}},
	}
	users := []struct {
		password string
		cred     token.Credential
	}{
		{"password123", token.Credential{
			Subject: "jdoe",
			Scopes:  []string{"read", "write"},
			Dept:    "HR", Groups: []string{"HR_READERS"}, RiskScore: 20,
		}},
		{"finance2024", token.Credential{
			Subject: "agonzalez",
			Scopes:  []string{"read", "write"},
			Dept:    "Finance", Groups: []string{"FIN_APPROVERS"}, RiskScore: 30,
		}},
		{"admin_pass", token.Credential{
			Subject: "mrios",
			Scopes:  []string{"read", "write"},
			Dept:    "IT", Groups: []string{"ADMINS"}, RiskScore: 15,
		}},
	}

	for _, c := range clients {
		if err := s.AddClient(c.cred, c.secret); err != nil {
			return fmt.Errorf("seed client %s: %w", c.cred.Subject, err)
		}
	}
	for _, u := range users {
		if err := s.AddUser(u.cred, u.password); err != nil {
			return fmt.Errorf("seed user %s: %w", u.cred.Subject, err)
		}
	}

	s.logger.Info("development credentials seeded", "clients", len(clients), "users", len(users))
	return nil
}

func cloneCredential(c *token.Credential) *token.Credential {
	out := *c
	out.Scopes = append([]string(nil), c.Scopes...)
	out.Groups = append([]string(nil), c.Groups...)
	return &out
}

// Compile-time interface verification.
var _ token.CredentialStore = (*CredentialStore)(nil)
