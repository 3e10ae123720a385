package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 12 * time.Hour

// TokenIssuerConfig configures the session JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer mints session JWTs. The API itself only decodes tokens; the
// issuer exists for the dev-token CLI command and for tests.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	tokenTTL      time.Duration
	clock         func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) *TokenIssuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        cfg.Issuer,
		tokenTTL:      ttl,
		clock:         clock,
	}
}

// IssueToken produces a signed session JWT for the given user.
func (i *TokenIssuer) IssueToken(userID, displayName string, roles []string) (string, error) {
	if len(i.signingSecret) == 0 {
		return "", ErrMissingSigningSecret
	}
	if userID == "" {
		return "", ErrMissingSubject
	}

	now := i.clock().UTC()
	claims := SessionClaims{
		UserDisplayName: displayName,
		UserRoles:       roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.signingSecret)
}
