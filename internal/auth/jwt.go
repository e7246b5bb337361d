// Package auth provides the session token issuer for the Pikoshi API.
//
// SESSION FLOW OVERVIEW:
//  1. Any successful signup or login (email or Google) ends in IssuePair,
//     which mints an access token (1h) and a refresh token (24h).
//  2. Both are stored in HttpOnly cookies.
//  3. Each request verifies the access token; when it has expired the
//     refresh token is used to mint a new access token silently.
//
// Both tokens carry the user's UUID as "sub". The "typ" claim records which
// of the two a token is, so a refresh token can never be replayed as an
// access token, and "mth" records how the session was established. Nothing
// downstream ever guesses a token's origin from its shape.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pikoshi/pikoshi/internal/model"
)

const issuer = "pikoshi"

// ErrInvalidToken covers every way a token can fail verification: bad
// signature, unsupported algorithm, expiry, wrong kind, missing subject.
var ErrInvalidToken = errors.New("auth: invalid token")

// TokenKind distinguishes the two halves of a session pair.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// Claims is the JWT payload.
type Claims struct {
	Kind   TokenKind          `json:"typ"`
	Method model.SignupMethod `json:"mth,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is what a successful authentication hands back to the client.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	Secret     string
	Algorithm  string // HS256, HS384 or HS512
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService creates a TokenService.
// The secret should be at least 32 bytes of random data in production.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.Secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}

	alg := cfg.Algorithm
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", alg)
	}

	ts := &TokenService{
		secret:     []byte(cfg.Secret),
		method:     method,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	if ts.accessTTL <= 0 {
		ts.accessTTL = time.Hour
	}
	if ts.refreshTTL <= 0 {
		ts.refreshTTL = 24 * time.Hour
	}
	return ts, nil
}

// AccessTTL is how long a freshly issued access token stays valid. The
// session cache entry uses the same lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL is the lifetime of a refresh token.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssuePair mints an access/refresh pair for the given user UUID.
func (s *TokenService) IssuePair(userUUID string, method model.SignupMethod) (*TokenPair, error) {
	now := s.now()

	access, accessExp, err := s.sign(userUUID, method, AccessToken, now, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.sign(userUUID, method, RefreshToken, now, s.refreshTTL)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify parses a token, checks signature, algorithm, issuer and expiry, and
// requires it to be of the expected kind. It never consults the cache or the
// store.
func (s *TokenService) Verify(tokenStr string, want TokenKind) (*Claims, error) {
	c := &Claims{}
	token, err := jwt.ParseWithClaims(
		tokenStr,
		c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", ErrInvalidToken)
	}
	if c.Kind != want {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, want, c.Kind)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	return c, nil
}

// Refresh validates a refresh token and mints a new access token for the
// same subject. The refresh token itself is not rotated.
func (s *TokenService) Refresh(refreshToken string) (string, time.Time, *Claims, error) {
	c, err := s.Verify(refreshToken, RefreshToken)
	if err != nil {
		return "", time.Time{}, nil, err
	}

	access, exp, err := s.sign(c.Subject, c.Method, AccessToken, s.now(), s.accessTTL)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	return access, exp, c, nil
}

func (s *TokenService) sign(subject string, method model.SignupMethod, kind TokenKind, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	c := Claims{
		Kind:   kind,
		Method: method,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(), // two logins in the same second must not collide in the session cache
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    issuer,
		},
	}

	signed, err := jwt.NewWithClaims(s.method, c).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signing %s token: %w", kind, err)
	}
	return signed, exp, nil
}
