// Package handler contains the HTTP adaptors of the API.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the incoming request (JSON body, cookies, multipart form)
//  2. Call one service operation
//  3. Write the response (status, cookies, body)
//
// Handlers hold no business rules. They depend on the small interfaces
// below rather than on the concrete services, so each handler is tested
// against a stub.
package handler

import (
	"context"

	"github.com/pikoshi/pikoshi/internal/auth"
	"github.com/pikoshi/pikoshi/internal/gallery"
	"github.com/pikoshi/pikoshi/internal/model"
	"github.com/pikoshi/pikoshi/internal/service"
)

// Identity is the part of service.IdentityService the auth routes use.
type Identity interface {
	auth.Authenticator
	SignupOAuth(ctx context.Context, code string) (*service.AuthResult, error)
	LoginOAuth(ctx context.Context, code string) (*service.AuthResult, error)
	LoginEmail(ctx context.Context, email, password string) (*service.AuthResult, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	CurrentUser(ctx context.Context, userUUID string) (*model.User, error)
}

// Accounts is the part of service.AccountService the email-link routes use.
type Accounts interface {
	RequestSignup(ctx context.Context, email string) error
	CheckToken(ctx context.Context, token string, kind service.TokenKind) error
	CompleteOnboarding(ctx context.Context, token, username, password string) (*service.AuthResult, error)
	ForgotPassword(ctx context.Context, email string) error
	ChangePassword(ctx context.Context, token, password string) error
}

// Gallery is the part of service.GalleryService the gallery routes use.
type Gallery interface {
	DefaultGallery(ctx context.Context, user *model.User, cursor gallery.Cursor) (*service.Listing, error)
	Image(ctx context.Context, user *model.User, bucket, key string) (*model.ImageObject, error)
	Single(ctx context.Context, user *model.User, fileName string, viewportWidth int) (*model.ImageObject, error)
	Upload(ctx context.Context, user *model.User, fileName string, data []byte) (*model.ImageSet, error)
	Count(ctx context.Context, user *model.User) (int, error)
}

var (
	_ Identity = (*service.IdentityService)(nil)
	_ Accounts = (*service.AccountService)(nil)
	_ Gallery  = (*service.GalleryService)(nil)
)
