package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pikoshi/pikoshi/internal/apperror"
	"github.com/pikoshi/pikoshi/internal/auth"
	"github.com/pikoshi/pikoshi/internal/cache"
	"github.com/pikoshi/pikoshi/internal/model"
	"github.com/pikoshi/pikoshi/internal/repository"
)

// IdentityService turns credentials into sessions.
//
//	Handler → IdentityService → UserRepository (durable user row)
//	                          ↘ TokenService   (access/refresh JWTs)
//	                          ↘ cache.Store    (auth_session_{token} → user id)
//	                          ↘ OAuthProvider  (Google code exchange)
//
// Both credential schemes end in the same place: the user row is marked
// active, a token pair is minted for the user's UUID, and the access token
// is registered in the session cache. The store write always comes first,
// so a failed store write never leaves a cache entry behind.
//
// DEPENDENCIES (injected via NewIdentityService):
//   - users     repository.UserRepository
//   - sessions  cache.Store
//   - tokens    *auth.TokenService
//   - hasher    *auth.Hasher
//   - oauth     OAuthProvider (nil disables the Google endpoints)
//   - logger    *slog.Logger
type IdentityService struct {
	users    repository.UserRepository
	sessions cache.Store
	tokens   *auth.TokenService
	hasher   *auth.Hasher
	oauth    OAuthProvider
	logger   *slog.Logger
	now      func() time.Time
}

// NewIdentityService creates an IdentityService with all required dependencies.
func NewIdentityService(
	users repository.UserRepository,
	sessions cache.Store,
	tokens *auth.TokenService,
	hasher *auth.Hasher,
	oauth OAuthProvider,
	logger *slog.Logger,
) *IdentityService {
	return &IdentityService{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		hasher:   hasher,
		oauth:    oauth,
		logger:   logger,
		now:      time.Now,
	}
}

// AuthResult bundles the user with the freshly issued token pair so the
// handler can set both cookies and respond in one step.
type AuthResult struct {
	User   *model.User
	Tokens *auth.TokenPair
}

// =========================================================================
// SIGNUP
// =========================================================================

// SignupEmail registers a password account and logs it in.
func (s *IdentityService) SignupEmail(ctx context.Context, email, username, password string) (*AuthResult, error) {
	if err := check(signupInput{Email: email, Username: username, Password: password}); err != nil {
		return nil, err
	}

	user, err := s.register(ctx, email, username, password, model.SignupEmail)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user signed up", "uuid", user.UUID, "method", user.SignedUpMethod)
	return s.establishSession(ctx, user)
}

// SignupOAuth registers an account from a Google authorization code.
// The provider's subject id becomes the password-equivalent.
func (s *IdentityService) SignupOAuth(ctx context.Context, code string) (*AuthResult, error) {
	profile, err := s.exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	user, err := s.register(ctx, profile.Email, profile.Name, profile.ID, model.SignupOAuth2)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user signed up", "uuid", user.UUID, "method", user.SignedUpMethod)
	return s.establishSession(ctx, user)
}

// register checks the email, derives the credential digest and persists an
// active user. The read-then-write check gives a friendly Conflict; the
// store's unique index catches the concurrent case.
func (s *IdentityService) register(ctx context.Context, email, name, secret string, method model.SignupMethod) (*model.User, error) {
	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, apperror.Conflict("user", email)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/auth: checking email: %w", err)
	}

	salt, err := s.hasher.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	now := s.now().UTC()
	user := &model.User{
		UUID:           uuid.NewString(),
		Name:           name,
		Email:          email,
		Password:       s.hasher.HashValue(secret, salt),
		Salt:           salt,
		IsActive:       true,
		SignedUpMethod: method,
		CreatedAt:      now,
		LastLogin:      now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}
	return user, nil
}

// =========================================================================
// LOGIN
// =========================================================================

// LoginEmail authenticates a password account.
//
// An unknown email, a wrong password and an OAuth-only account all produce
// the same Unauthorized error, so the response does not reveal which emails
// are registered.
func (s *IdentityService) LoginEmail(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized()
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if user.SignedUpMethod != model.SignupEmail || !s.hasher.VerifyValue(password, user.Password, user.Salt) {
		s.logger.Warn("password login rejected", "uuid", user.UUID)
		return nil, apperror.Unauthorized()
	}

	return s.login(ctx, user)
}

// LoginOAuth authenticates a Google account.
//
// An unknown email stays NotFound: the frontend sends the user to the
// signup flow on it.
func (s *IdentityService) LoginOAuth(ctx context.Context, code string) (*AuthResult, error) {
	profile, err := s.exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, profile.Email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if user.SignedUpMethod != model.SignupOAuth2 || !s.hasher.VerifyValue(profile.ID, user.Password, user.Salt) {
		s.logger.Warn("oauth login rejected", "uuid", user.UUID)
		return nil, apperror.Unauthorized()
	}

	return s.login(ctx, user)
}

func (s *IdentityService) login(ctx context.Context, user *model.User) (*AuthResult, error) {
	now := s.now().UTC()
	if err := s.users.MarkLoggedIn(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("service/auth: marking login: %w", err)
	}
	user.IsActive = true
	user.LastLogin = now

	s.logger.Info("user logged in", "uuid", user.UUID, "method", user.SignedUpMethod)
	return s.establishSession(ctx, user)
}

func (s *IdentityService) exchange(ctx context.Context, code string) (*auth.GoogleProfile, error) {
	if s.oauth == nil {
		return nil, apperror.Forbidden("google sign-in is not configured")
	}
	if code == "" {
		return nil, apperror.ValidationFailed("code", "code is required")
	}

	profile, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		if errors.Is(err, auth.ErrOAuthRejected) {
			s.logger.Warn("google rejected the authorization code", "error", err)
			return nil, apperror.Unauthorized()
		}
		return nil, apperror.Upstream("google oauth", err)
	}
	return profile, nil
}

// establishSession mints the token pair and registers the access token in
// the session cache. It runs only after the user row is active.
func (s *IdentityService) establishSession(ctx context.Context, user *model.User) (*AuthResult, error) {
	pair, err := s.tokens.IssuePair(user.UUID, user.SignedUpMethod)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing tokens: %w", err)
	}

	if err := s.remember(ctx, pair.AccessToken, user.ID); err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Tokens: pair}, nil
}

func (s *IdentityService) remember(ctx context.Context, accessToken string, userID int64) error {
	key := cache.SessionKey(accessToken)
	if err := s.sessions.Set(ctx, key, strconv.FormatInt(userID, 10), s.tokens.AccessTTL()); err != nil {
		return apperror.Upstream("session cache", err)
	}
	return nil
}

// =========================================================================
// PER-REQUEST AUTHENTICATION
// =========================================================================

// Authenticate resolves the session cookies of a request.
//
// The access token is accepted when its signature and expiry hold, the
// session cache maps it to the same user, and that user is still active.
// Otherwise the refresh token is tried: if it is valid for an active user a
// new access token is minted and cached (silent refresh).
//
// Credential failures come back as apperror.Unauthorized. Cache and store
// outages are returned as they are, so they surface as 5xx rather than
// logging the user out.
func (s *IdentityService) Authenticate(ctx context.Context, accessToken, refreshToken string) (*auth.Session, error) {
	if accessToken != "" {
		user, err := s.fromAccess(ctx, accessToken)
		switch {
		case err == nil:
			return &auth.Session{User: user, AccessToken: accessToken}, nil
		case !errors.Is(err, apperror.ErrUnauthorized):
			return nil, err
		}
	}

	if refreshToken == "" {
		return nil, apperror.Unauthorized()
	}

	access, expires, claims, err := s.tokens.Refresh(refreshToken)
	if err != nil {
		return nil, apperror.Unauthorized()
	}

	user, err := s.activeUser(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if err := s.remember(ctx, access, user.ID); err != nil {
		return nil, err
	}

	s.logger.Debug("access token refreshed", "uuid", user.UUID)
	return &auth.Session{
		User:            user,
		AccessToken:     access,
		RefreshedAccess: access,
		AccessExpiresAt: expires,
	}, nil
}

func (s *IdentityService) fromAccess(ctx context.Context, accessToken string) (*model.User, error) {
	claims, err := s.tokens.Verify(accessToken, auth.AccessToken)
	if err != nil {
		return nil, apperror.Unauthorized()
	}

	cached, err := s.sessions.Get(ctx, cache.SessionKey(accessToken))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, apperror.Unauthorized()
		}
		return nil, apperror.Upstream("session cache", err)
	}

	user, err := s.activeUser(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if cached != strconv.FormatInt(user.ID, 10) {
		return nil, apperror.Unauthorized()
	}
	return user, nil
}

func (s *IdentityService) activeUser(ctx context.Context, userUUID string) (*model.User, error) {
	user, err := s.users.GetByUUID(ctx, userUUID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized()
		}
		return nil, fmt.Errorf("service/auth: resolving session user: %w", err)
	}
	if !user.IsActive {
		return nil, apperror.Unauthorized()
	}
	return user, nil
}

// =========================================================================
// LOGOUT
// =========================================================================

// Logout ends the session identified by either cookie. The cache entry for
// the access token is always removed and the user is marked inactive, which
// also invalidates any other token pair the user still holds.
func (s *IdentityService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	var subject string
	if c, err := s.tokens.Verify(accessToken, auth.AccessToken); err == nil {
		subject = c.Subject
	} else if c, err := s.tokens.Verify(refreshToken, auth.RefreshToken); err == nil {
		subject = c.Subject
	} else {
		return apperror.Unauthorized()
	}

	if accessToken != "" {
		if err := s.sessions.Delete(ctx, cache.SessionKey(accessToken)); err != nil {
			s.logger.Error("dropping session cache entry", "error", err)
		}
	}

	user, err := s.users.GetByUUID(ctx, subject)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.Unauthorized()
		}
		return fmt.Errorf("service/auth: resolving user: %w", err)
	}
	if err := s.users.SetActive(ctx, user.ID, false); err != nil {
		return fmt.Errorf("service/auth: deactivating user: %w", err)
	}

	s.logger.Info("user logged out", "uuid", user.UUID)
	return nil
}

// CurrentUser re-reads the user so the profile reflects the store.
func (s *IdentityService) CurrentUser(ctx context.Context, userUUID string) (*model.User, error) {
	user, err := s.users.GetByUUID(ctx, userUUID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: loading user: %w", err)
	}
	return user, nil
}

var _ auth.Authenticator = (*IdentityService)(nil)
