// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses and cookies
//	Service (business layer) → validates, enforces rules, orchestrates
//	Repository / cache / S3  → durable and ephemeral state
//
// Three services live here:
//   - IdentityService: signup, login, logout and per-request authentication
//     for both credential schemes (password and Google OAuth2)
//   - AccountService: the email-driven flows (onboarding link, password reset)
//   - GalleryService: maps an authenticated user onto their storage space
//
// Every collaborator arrives as an interface, so each service is tested with
// in-memory fakes and no network.
package service

import (
	"context"
	"time"

	"github.com/pikoshi/pikoshi/internal/auth"
	"github.com/pikoshi/pikoshi/internal/gallery"
	"github.com/pikoshi/pikoshi/internal/model"
)

// LinkTokenTTL bounds how long onboarding and reset links stay redeemable.
// The mail composer quotes the same value.
const LinkTokenTTL = 10 * time.Minute

// OAuthProvider exchanges an authorization code for the provider profile.
type OAuthProvider interface {
	Exchange(ctx context.Context, code string) (*auth.GoogleProfile, error)
}

// Notifier sends the account emails. Implementations must not block on
// delivery.
type Notifier interface {
	SendOnboarding(to, token string) error
	SendPasswordReset(to, token string) error
}

// ImageStore is the object-storage gallery.
type ImageStore interface {
	BucketFor(userUUID string) string
	EnsureUserSpace(ctx context.Context, userUUID string) (string, error)
	ListImages(ctx context.Context, bucket, userUUID, album string, maxKeys int32, cursor gallery.Cursor, res model.Resolution) (*gallery.Page, error)
	GetImage(ctx context.Context, bucket, key string) (*model.ImageObject, error)
	FetchSingle(ctx context.Context, bucket, userUUID, fileName string, res model.Resolution) (*model.ImageObject, error)
	UploadImage(ctx context.Context, bucket, userUUID, album, fileName string, src []byte) (*model.ImageSet, error)
	CountImages(ctx context.Context, bucket, userUUID, album string) (int, error)
}

var _ ImageStore = (*gallery.Store)(nil)
