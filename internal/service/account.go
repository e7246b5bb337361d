package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pikoshi/pikoshi/internal/apperror"
	"github.com/pikoshi/pikoshi/internal/auth"
	"github.com/pikoshi/pikoshi/internal/cache"
	"github.com/pikoshi/pikoshi/internal/model"
	"github.com/pikoshi/pikoshi/internal/repository"
)

// TokenKind names the two kinds of emailed link token.
type TokenKind string

const (
	SignupLink         TokenKind = "signup"
	ChangePasswordLink TokenKind = "change-password"
)

func (k TokenKind) key(token string) (string, error) {
	switch k {
	case SignupLink:
		return cache.SignupTokenKey(token), nil
	case ChangePasswordLink:
		return cache.ChangePasswordTokenKey(token), nil
	}
	return "", apperror.ValidationFailed("kind", "kind must be signup or change-password")
}

// AccountService runs the two email-link flows.
//
// ONBOARDING:  RequestSignup → email with ?token= → CompleteOnboarding
// RESET:       ForgotPassword → email with ?token= → ChangePassword
//
// A link token maps to the email it was sent to in the cache for ten
// minutes and is consumed with GETDEL, so each link works at most once.
type AccountService struct {
	users    repository.UserRepository
	links    cache.Store
	hasher   *auth.Hasher
	notifier Notifier
	identity *IdentityService
	logger   *slog.Logger
}

// NewAccountService creates an AccountService.
func NewAccountService(
	users repository.UserRepository,
	links cache.Store,
	hasher *auth.Hasher,
	notifier Notifier,
	identity *IdentityService,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		users:    users,
		links:    links,
		hasher:   hasher,
		notifier: notifier,
		identity: identity,
		logger:   logger,
	}
}

// RequestSignup sends an onboarding link to an unregistered email.
func (s *AccountService) RequestSignup(ctx context.Context, email string) error {
	if err := check(emailInput{Email: email}); err != nil {
		return err
	}

	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return apperror.Conflict("user", email)
	case !errors.Is(err, apperror.ErrNotFound):
		return fmt.Errorf("service/account: checking email: %w", err)
	}

	token, err := s.issueLink(ctx, SignupLink, email)
	if err != nil {
		return err
	}
	if err := s.notifier.SendOnboarding(email, token); err != nil {
		return apperror.Upstream("mail", err)
	}

	s.logger.Info("onboarding link sent")
	return nil
}

// CheckToken reports whether a link token is still redeemable without
// consuming it.
func (s *AccountService) CheckToken(ctx context.Context, token string, kind TokenKind) error {
	key, err := kind.key(token)
	if err != nil {
		return err
	}
	if token == "" {
		return apperror.ValidationFailed("token", "token is required")
	}

	if _, err := s.links.Get(ctx, key); err != nil {
		return s.linkError(err)
	}
	return nil
}

// CompleteOnboarding redeems a signup link and creates the account.
func (s *AccountService) CompleteOnboarding(ctx context.Context, token, username, password string) (*AuthResult, error) {
	if err := check(onboardingInput{Token: token, Username: username, Password: password}); err != nil {
		return nil, err
	}

	key := cache.SignupTokenKey(token)
	email, err := s.links.Get(ctx, key)
	if err != nil {
		return nil, s.linkError(err)
	}

	res, err := s.identity.SignupEmail(ctx, email, username, password)
	if err != nil {
		return nil, err
	}
	s.consumeLink(ctx, key)
	return res, nil
}

// ForgotPassword sends a reset link when a password account exists for the
// email. Unknown emails and OAuth accounts get the same silent success, so
// the endpoint cannot be used to discover registered addresses.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	if err := check(emailInput{Email: email}); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("service/account: looking up user: %w", err)
	}
	if user.SignedUpMethod != model.SignupEmail {
		return nil
	}

	token, err := s.issueLink(ctx, ChangePasswordLink, email)
	if err != nil {
		return err
	}
	if err := s.notifier.SendPasswordReset(email, token); err != nil {
		return apperror.Upstream("mail", err)
	}

	s.logger.Info("password reset link sent", "uuid", user.UUID)
	return nil
}

// ChangePassword redeems a reset link, stores the new credential and
// deactivates the account so every outstanding session stops working.
func (s *AccountService) ChangePassword(ctx context.Context, token, password string) error {
	if err := check(passwordChangeInput{Token: token, Password: password}); err != nil {
		return err
	}

	key := cache.ChangePasswordTokenKey(token)
	email, err := s.links.Get(ctx, key)
	if err != nil {
		return s.linkError(err)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return s.linkError(cache.ErrMiss)
		}
		return fmt.Errorf("service/account: looking up user: %w", err)
	}

	salt, err := s.hasher.GenerateSalt()
	if err != nil {
		return fmt.Errorf("service/account: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, s.hasher.HashValue(password, salt), salt); err != nil {
		return fmt.Errorf("service/account: updating password: %w", err)
	}
	if err := s.users.SetActive(ctx, user.ID, false); err != nil {
		return fmt.Errorf("service/account: deactivating user: %w", err)
	}

	s.consumeLink(ctx, key)

	s.logger.Info("password changed", "uuid", user.UUID)
	return nil
}

// consumeLink deletes a link once the operation it authorised has
// succeeded. A link that outlives a failed delete still expires with its TTL,
// and redeeming it again hits the email uniqueness check or rewrites the
// same password.
func (s *AccountService) consumeLink(ctx context.Context, key string) {
	if err := s.links.Delete(ctx, key); err != nil {
		s.logger.Warn("could not delete redeemed link", "error", err)
	}
}

func (s *AccountService) issueLink(ctx context.Context, kind TokenKind, email string) (string, error) {
	token, err := s.hasher.GenerateTokenHash(email)
	if err != nil {
		return "", fmt.Errorf("service/account: %w", err)
	}

	key, err := kind.key(token)
	if err != nil {
		return "", err
	}
	if err := s.links.Set(ctx, key, email, LinkTokenTTL); err != nil {
		return "", apperror.Upstream("link cache", err)
	}
	return token, nil
}

func (s *AccountService) linkError(err error) error {
	if errors.Is(err, cache.ErrMiss) {
		return apperror.ValidationFailed("token", "link is invalid or has expired")
	}
	return apperror.Upstream("link cache", err)
}
