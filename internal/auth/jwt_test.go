package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pikoshi/pikoshi/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUUID = "6f1c1c2e-4b8a-4d0e-9d38-0d1f0c6b1a11"

// newTestTokenService creates a TokenService with a fixed secret and the
// production lifetimes, so expiry tests exercise the real 1h/24h windows.
func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService(TokenConfig{
		Secret:     "test-secret-at-least-16-chars!!",
		Algorithm:  "HS256",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	})
	require.NoError(t, err)
	return ts
}

// atTime pins the service clock for both issuing and verifying.
func atTime(ts *TokenService, at time.Time) {
	ts.now = func() time.Time { return at }
}

// =========================================================================
// CONSTRUCTION TESTS
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	_, err := NewTokenService(TokenConfig{Secret: "short"})
	assert.Error(t, err)
}

func TestNewTokenService_UnsupportedAlgorithm(t *testing.T) {
	for _, alg := range []string{"RS256", "none", "bogus"} {
		t.Run(alg, func(t *testing.T) {
			_, err := NewTokenService(TokenConfig{Secret: "this-is-16-chars", Algorithm: alg})
			assert.Error(t, err)
		})
	}
}

func TestNewTokenService_DefaultsTTL(t *testing.T) {
	ts, err := NewTokenService(TokenConfig{Secret: "this-is-16-chars"})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ts.AccessTTL())
	assert.Equal(t, 24*time.Hour, ts.RefreshTTL())
}

// =========================================================================
// IssuePair / Verify TESTS
// =========================================================================

func TestIssuePair_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)
	issuedAt := time.Now().Truncate(time.Second)
	atTime(ts, issuedAt)

	pair, err := ts.IssuePair(testUUID, model.SignupEmail)
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(pair.AccessToken, "."))
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.Equal(t, issuedAt.Add(time.Hour), pair.AccessExpiresAt)
	assert.Equal(t, issuedAt.Add(24*time.Hour), pair.RefreshExpiresAt)

	claims, err := ts.Verify(pair.AccessToken, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, testUUID, claims.Subject)
	assert.Equal(t, model.SignupEmail, claims.Method)
	assert.Equal(t, AccessToken, claims.Kind)

	claims, err = ts.Verify(pair.RefreshToken, RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, testUUID, claims.Subject)
}

func TestIssuePair_SameSecondTokensDiffer(t *testing.T) {
	ts := newTestTokenService(t)
	atTime(ts, time.Now())

	a, err := ts.IssuePair(testUUID, model.SignupEmail)
	require.NoError(t, err)
	b, err := ts.IssuePair(testUUID, model.SignupEmail)
	require.NoError(t, err)

	assert.NotEqual(t, a.AccessToken, b.AccessToken)
}

// TestVerify_ValidityWindow: a fresh access token verifies, and the same
// token replayed after its expiry instant does not.
func TestVerify_ValidityWindow(t *testing.T) {
	ts := newTestTokenService(t)
	issuedAt := time.Now()
	atTime(ts, issuedAt)

	pair, err := ts.IssuePair(testUUID, model.SignupEmail)
	require.NoError(t, err)

	atTime(ts, issuedAt.Add(59*time.Minute))
	_, err = ts.Verify(pair.AccessToken, AccessToken)
	require.NoError(t, err, "token should still be valid inside its window")

	atTime(ts, issuedAt.Add(time.Hour+time.Second))
	_, err = ts.Verify(pair.AccessToken, AccessToken)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	// The refresh token outlives the access token.
	_, err = ts.Verify(pair.RefreshToken, RefreshToken)
	assert.NoError(t, err)
}

func TestVerify_WrongKind(t *testing.T) {
	ts := newTestTokenService(t)
	pair, err := ts.IssuePair(testUUID, model.SignupOAuth2)
	require.NoError(t, err)

	_, err = ts.Verify(pair.RefreshToken, AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "a refresh token must not pass as an access token")

	_, err = ts.Verify(pair.AccessToken, RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_TamperedToken(t *testing.T) {
	ts := newTestTokenService(t)
	pair, _ := ts.IssuePair(testUUID, model.SignupEmail)

	tampered := pair.AccessToken[:len(pair.AccessToken)-3] + "xxx"

	_, err := ts.Verify(tampered, AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	ts1, _ := NewTokenService(TokenConfig{Secret: "correct-secret-32-chars-long!!!!"})
	ts2, _ := NewTokenService(TokenConfig{Secret: "wrong-secret-32-chars-long!!!!!!"})

	pair, _ := ts1.IssuePair(testUUID, model.SignupEmail)

	_, err := ts2.Verify(pair.AccessToken, AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsOtherAlgorithm(t *testing.T) {
	hs512, err := NewTokenService(TokenConfig{Secret: "test-secret-at-least-16-chars!!", Algorithm: "HS512"})
	require.NoError(t, err)
	hs256 := newTestTokenService(t)

	pair, err := hs512.IssuePair(testUUID, model.SignupEmail)
	require.NoError(t, err)

	_, err = hs256.Verify(pair.AccessToken, AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	ts := newTestTokenService(t)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Kind: AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   testUUID,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	tokenStr, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ts.Verify(tokenStr, AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Garbage(t *testing.T) {
	ts := newTestTokenService(t)

	for _, input := range []string{"", "not.a.jwt", "a.b.c.d"} {
		_, err := ts.Verify(input, AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken, "input %q", input)
	}
}

// =========================================================================
// Refresh TESTS
// =========================================================================

func TestRefresh_IssuesNewAccessToken(t *testing.T) {
	ts := newTestTokenService(t)
	issuedAt := time.Now()
	atTime(ts, issuedAt)

	pair, err := ts.IssuePair(testUUID, model.SignupOAuth2)
	require.NoError(t, err)

	// Two hours later the access token is dead but the refresh token is not.
	later := issuedAt.Add(2 * time.Hour)
	atTime(ts, later)

	access, exp, claims, err := ts.Refresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, testUUID, claims.Subject)
	assert.WithinDuration(t, later.Add(time.Hour), exp, time.Second)

	got, err := ts.Verify(access, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, testUUID, got.Subject)
	assert.Equal(t, model.SignupOAuth2, got.Method)
}

func TestRefresh_ExpiredRefreshToken(t *testing.T) {
	ts := newTestTokenService(t)
	issuedAt := time.Now()
	atTime(ts, issuedAt)

	pair, err := ts.IssuePair(testUUID, model.SignupEmail)
	require.NoError(t, err)

	atTime(ts, issuedAt.Add(25*time.Hour))
	_, _, _, err = ts.Refresh(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	ts := newTestTokenService(t)
	pair, _ := ts.IssuePair(testUUID, model.SignupEmail)

	_, _, _, err := ts.Refresh(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
