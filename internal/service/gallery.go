package service

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/pikoshi/pikoshi/internal/apperror"
	"github.com/pikoshi/pikoshi/internal/gallery"
	"github.com/pikoshi/pikoshi/internal/model"
)

// MobileBreakpoint is the viewport width, in CSS pixels, below which single
// images are served at mobile resolution.
const MobileBreakpoint = 768

// ResolutionFor is the server-side responsive image policy.
func ResolutionFor(viewportWidth int) model.Resolution {
	if viewportWidth < MobileBreakpoint {
		return model.ResolutionMobile
	}
	return model.ResolutionOriginal
}

// Listing is one page of the default album's thumbnails.
type Listing struct {
	Bucket string
	Page   *gallery.Page
}

// GalleryService maps an authenticated user onto their storage space.
// It only ever touches the default album.
type GalleryService struct {
	store    ImageStore
	pageSize int32
	logger   *slog.Logger
}

// NewGalleryService creates a GalleryService. pageSize bounds every listing.
func NewGalleryService(store ImageStore, pageSize int32, logger *slog.Logger) *GalleryService {
	if pageSize <= 0 {
		pageSize = 30
	}
	return &GalleryService{store: store, pageSize: pageSize, logger: logger}
}

// DefaultGallery prepares the user's space and lists the thumbnail page
// that starts at cursor.
func (s *GalleryService) DefaultGallery(ctx context.Context, user *model.User, cursor gallery.Cursor) (*Listing, error) {
	bucket, err := s.store.EnsureUserSpace(ctx, user.UUID)
	if err != nil {
		return nil, err
	}

	page, err := s.store.ListImages(ctx, bucket, user.UUID, gallery.DefaultAlbum, s.pageSize, cursor, model.ResolutionThumbnail)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("gallery page listed", "uuid", user.UUID, "images", len(page.Objects), "exhausted", page.Next.IsExhausted())
	return &Listing{Bucket: bucket, Page: page}, nil
}

// Image downloads one listed object. Keys outside the user's own prefix are
// refused.
func (s *GalleryService) Image(ctx context.Context, user *model.User, bucket, key string) (*model.ImageObject, error) {
	if bucket != s.store.BucketFor(user.UUID) || !strings.HasPrefix(key, user.UUID+"/") {
		return nil, apperror.Forbidden("image belongs to another user")
	}
	return s.store.GetImage(ctx, bucket, key)
}

// Single fetches one image of the default album at the resolution the
// viewport calls for.
func (s *GalleryService) Single(ctx context.Context, user *model.User, fileName string, viewportWidth int) (*model.ImageObject, error) {
	name, err := cleanFileName(fileName)
	if err != nil {
		return nil, err
	}
	if viewportWidth < 0 {
		return nil, apperror.ValidationFailed("viewport_width", "must not be negative")
	}

	bucket := s.store.BucketFor(user.UUID)
	return s.store.FetchSingle(ctx, bucket, user.UUID, name, ResolutionFor(viewportWidth))
}

// Upload stores an image in the default album at every resolution.
func (s *GalleryService) Upload(ctx context.Context, user *model.User, fileName string, data []byte) (*model.ImageSet, error) {
	name, err := cleanFileName(fileName)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, apperror.ValidationFailed("file", "file is empty")
	}

	bucket, err := s.store.EnsureUserSpace(ctx, user.UUID)
	if err != nil {
		return nil, err
	}

	set, err := s.store.UploadImage(ctx, bucket, user.UUID, gallery.DefaultAlbum, name, data)
	if err != nil {
		return nil, err
	}

	s.logger.Info("image uploaded", "uuid", user.UUID, "object", set.ObjectName, "bytes", len(data))
	return set, nil
}

// Count returns how many images the default album holds.
func (s *GalleryService) Count(ctx context.Context, user *model.User) (int, error) {
	bucket := s.store.BucketFor(user.UUID)
	return s.store.CountImages(ctx, bucket, user.UUID, gallery.DefaultAlbum)
}

// cleanFileName keeps only the last path element of a client-supplied name.
func cleanFileName(fileName string) (string, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), `\`, "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", apperror.ValidationFailed("filename", "filename is required")
	}
	return name, nil
}
