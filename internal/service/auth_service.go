package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/audit"
	"github.com/Aegis-Gate/Aegisgate/internal/domain/identity"
	"github.com/Aegis-Gate/Aegisgate/internal/domain/token"
)

// Sentinel errors surfaced to the token endpoint.
var (
	// ErrInvalidCredentials is returned for any failed credential check.
	// The cause (unknown subject vs. wrong secret) is a log-only concern.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnsupportedGrant is returned for grant types other than
	// client_credentials and password.
	ErrUnsupportedGrant = errors.New("unsupported grant type")
	// ErrUserInactive is returned when the password grant subject is
	// deprovisioned in the directory.
	ErrUserInactive = errors.New("user account is inactive")
)

// userStatusTimeout bounds the directory lookup in the password grant. The
// active check is an enrichment; a slow directory must not stall issuance.
const userStatusTimeout = 2 * time.Second

// TokenRequest is the decoded body of the token endpoint.
type TokenRequest struct {
	GrantType    string `json:"grant_type" validate:"required"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenStats receives issuance counters. Implementations must be safe for
// concurrent use.
type TokenStats interface {
	RecordTokenIssued(grantType string)
	RecordTokenDenied()
}

// AuthService authenticates credentials and mints bearer tokens. The two
// grant flows share one scope rule: granted scope is the intersection of the
// requested set with the credential's allowed set, falling back to read, and
// the response reports exactly what was minted into the token.
type AuthService struct {
	signer      token.Signer
	credentials token.CredentialStore
	directory   identity.Store
	recorder    audit.Recorder
	stats       TokenStats
	logger      *slog.Logger
	tokenTTL    time.Duration
}

// AuthOption configures AuthService.
type AuthOption func(*AuthService)

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(ttl time.Duration) AuthOption {
	return func(s *AuthService) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithUserDirectory attaches the provisioning directory consulted for the
// password grant's active check. Without one the check is skipped.
func WithUserDirectory(store identity.Store) AuthOption {
	return func(s *AuthService) {
		s.directory = store
	}
}

// WithAuthRecorder attaches an audit recorder for issuance records.
func WithAuthRecorder(rec audit.Recorder) AuthOption {
	return func(s *AuthService) {
		s.recorder = rec
	}
}

// WithTokenStats attaches issuance counters.
func WithTokenStats(stats TokenStats) AuthOption {
	return func(s *AuthService) {
		s.stats = stats
	}
}

// NewAuthService creates an AuthService issuing 30-minute tokens by default.
func NewAuthService(signer token.Signer, credentials token.CredentialStore, logger *slog.Logger, opts ...AuthOption) *AuthService {
	s := &AuthService{
		signer:      signer,
		credentials: credentials,
		logger:      logger,
		tokenTTL:    30 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}

	logger.Info("auth service initialized",
		"algorithm", signer.Algorithm(),
		"token_ttl", s.tokenTTL,
	)
	return s
}

// IssueToken runs the requested grant flow and returns the OAuth2-style
// response. Credential failures collapse to ErrInvalidCredentials; a
// deprovisioned password-grant subject returns ErrUserInactive.
func (s *AuthService) IssueToken(ctx context.Context, req TokenRequest) (token.Response, error) {
	s.logger.Info("token requested", "grant_type", req.GrantType)

	var cred *token.Credential
	var err error
	switch req.GrantType {
	case token.GrantClientCredentials:
		cred, err = s.credentials.LookupClient(ctx, req.ClientID, req.ClientSecret)
	case token.GrantPassword:
		cred, err = s.credentials.LookupUser(ctx, req.Username, req.Password)
	default:
		s.recordDenied(req, "unsupported grant type")
		return token.Response{}, fmt.Errorf("%w: %q", ErrUnsupportedGrant, req.GrantType)
	}
	if err != nil {
		s.logger.Warn("authentication failed",
			"grant_type", req.GrantType,
			"error", err,
		)
		s.recordDenied(req, "invalid credentials")
		return token.Response{}, ErrInvalidCredentials
	}

	if req.GrantType == token.GrantPassword {
		if err := s.checkUserActive(ctx, req.Username); err != nil {
			s.recordDenied(req, "user inactive")
			return token.Response{}, err
		}
	}

	granted := cred.GrantScopes(strings.Fields(req.Scope))
	scope := strings.Join(granted, " ")

	payload := cred.AttributeClaims()
	payload["sub"] = cred.Subject
	payload["scope"] = scope

	signed, err := s.signer.Issue(payload, s.tokenTTL)
	if err != nil {
		s.logger.Error("token signing failed",
			"subject", cred.Subject,
			"error", err,
		)
		return token.Response{}, fmt.Errorf("sign token: %w", err)
	}

	s.logger.Info("token issued",
		"subject", cred.Subject,
		"grant_type", req.GrantType,
		"scope", scope,
	)
	if s.stats != nil {
		s.stats.RecordTokenIssued(req.GrantType)
	}
	if s.recorder != nil {
		s.recorder.Record(audit.Record{
			Timestamp: time.Now().UTC(),
			EventType: audit.EventTypeTokenIssued,
			Subject:   cred.Subject,
			Detail:    fmt.Sprintf("grant_type=%s scope=%q", req.GrantType, scope),
		})
	}

	return token.Response{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.tokenTTL / time.Second),
		Scope:       scope,
	}, nil
}

// ValidateToken verifies the token and returns its structured claims.
// Verification failures pass through the signer's sentinel errors.
func (s *AuthService) ValidateToken(ctx context.Context, tokenString string) (*token.Claims, error) {
	raw, err := s.signer.Verify(tokenString)
	if err != nil {
		s.logger.Warn("token validation failed", "error", err)
		return nil, err
	}
	claims := token.ClaimsFromMap(raw)
	s.logger.Debug("token validated", "subject", claims.Subject)
	return &claims, nil
}

// checkUserActive consults the directory for a definitive inactive flag.
// A missing user or a directory failure does not block issuance: the
// credential check has already passed, and only a provisioned user marked
// inactive is grounds for refusal.
func (s *AuthService) checkUserActive(ctx context.Context, username string) error {
	if s.directory == nil {
		return nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, userStatusTimeout)
	defer cancel()

	user, err := s.directory.GetUserByUserName(lookupCtx, username)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil
		}
		s.logger.Warn("user status check unavailable",
			"username", username,
			"error", err,
		)
		return nil
	}
	if !user.Active {
		s.logger.Warn("inactive user attempted authentication", "username", username)
		return ErrUserInactive
	}
	return nil
}

func (s *AuthService) recordDenied(req TokenRequest, reason string) {
	if s.stats != nil {
		s.stats.RecordTokenDenied()
	}
	if s.recorder == nil {
		return
	}
	subject := req.ClientID
	if req.GrantType == token.GrantPassword {
		subject = req.Username
	}
	s.recorder.Record(audit.Record{
		Timestamp: time.Now().UTC(),
		EventType: audit.EventTypeTokenDenied,
		Subject:   subject,
		Detail:    reason,
	})
}
