package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/karaoke-backend/internal/apperr"
)

// Verifier checks signature, issuer, audience and expiry of access tokens.
type Verifier struct {
	keys   *KeyPair
	parser *jwt.Parser
}

// VerifierOption tweaks the underlying parser.
type VerifierOption func(*verifierConfig)

type verifierConfig struct {
	now    func() time.Time
	leeway time.Duration
}

// WithVerifierClock overrides the time source used for exp/iat checks.
func WithVerifierClock(fn func() time.Time) VerifierOption {
	return func(c *verifierConfig) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithLeeway allows for clock skew between issuer and verifier.
func WithLeeway(d time.Duration) VerifierOption {
	return func(c *verifierConfig) { c.leeway = d }
}

// NewVerifier builds a verifier bound to a fixed issuer and audience.
func NewVerifier(keys *KeyPair, issuer, audience string, opts ...VerifierOption) *Verifier {
	cfg := verifierConfig{now: time.Now}
	for _, o := range opts {
		o(&cfg)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(cfg.leeway),
		jwt.WithTimeFunc(cfg.now),
	)
	return &Verifier{keys: keys, parser: parser}
}

// Verify parses raw and returns its claims. Every failure is an
// *apperr.AuthenticationError.
func (v *Verifier) Verify(raw string) (*AccessClaims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperr.Unauthenticated("missing token", nil)
	}
	claims := &AccessClaims{}
	tok, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return v.keys.PublicKey(), nil
	})
	if err != nil {
		return nil, apperr.Unauthenticated(reasonFor(err), err)
	}
	if !tok.Valid {
		return nil, apperr.Unauthenticated("invalid token", nil)
	}
	return claims, nil
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "invalid audience"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "invalid issuer"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "invalid signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	}
	return "invalid token"
}

// ExtractBearerToken pulls the token out of an Authorization header value.
func ExtractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(header[7:])
	if tok == "" {
		return "", false
	}
	return tok, true
}
