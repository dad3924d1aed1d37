package auth

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jun/gophsync/internal/clock"
)

// StateTTL bounds how long an issued state stays acceptable.
const StateTTL = 10 * time.Minute

const stateIssuer = "gophsync"

// StateSigner issues and validates the anti-CSRF state parameter as a signed JWT.
type StateSigner struct {
	secret []byte
	clock  clock.Clock
}

// NewStateSigner creates a signer. The secret must be non-empty.
func NewStateSigner(secret []byte, c clock.Clock) (*StateSigner, error) {
	if len(secret) == 0 {
		return nil, &ConfigurationError{Field: "state secret"}
	}
	if c == nil {
		c = clock.RealClock{}
	}
	return &StateSigner{secret: secret, clock: c}, nil
}

// Issue returns a fresh state value bound to provider.
func (s *StateSigner) Issue(provider string) (string, error) {
	now := s.clock.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    stateIssuer,
		Subject:   provider,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(StateTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// Validate checks that returned is exactly the state issued for this flow and is
// still within its lifetime.
func (s *StateSigner) Validate(issued, returned, provider string) error {
	if issued == "" || returned == "" {
		return ErrStateMismatch
	}
	if !hmac.Equal([]byte(issued), []byte(returned)) {
		return ErrStateMismatch
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(returned, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithSubject(provider),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStateMismatch, err)
	}
	if claims.ID == "" {
		return fmt.Errorf("%w: %w", ErrStateMismatch, errors.New("state carries no nonce"))
	}
	return nil
}
