package handler_test

import (
	"context"
	"io"
	"log/slog"

	"github.com/pikoshi/pikoshi/internal/auth"
	"github.com/pikoshi/pikoshi/internal/gallery"
	"github.com/pikoshi/pikoshi/internal/model"
	"github.com/pikoshi/pikoshi/internal/service"
)

// StubIdentity returns canned results and records the credentials it saw.
type StubIdentity struct {
	Result  *service.AuthResult
	Session *auth.Session
	User    *model.User
	Err     error

	GotCode     string
	GotEmail    string
	GotPassword string
	GotAccess   string
	GotRefresh  string
}

func (s *StubIdentity) Authenticate(_ context.Context, access, refresh string) (*auth.Session, error) {
	s.GotAccess, s.GotRefresh = access, refresh
	return s.Session, s.Err
}

func (s *StubIdentity) SignupOAuth(_ context.Context, code string) (*service.AuthResult, error) {
	s.GotCode = code
	return s.Result, s.Err
}

func (s *StubIdentity) LoginOAuth(_ context.Context, code string) (*service.AuthResult, error) {
	s.GotCode = code
	return s.Result, s.Err
}

func (s *StubIdentity) LoginEmail(_ context.Context, email, password string) (*service.AuthResult, error) {
	s.GotEmail, s.GotPassword = email, password
	return s.Result, s.Err
}

func (s *StubIdentity) Logout(_ context.Context, access, refresh string) error {
	s.GotAccess, s.GotRefresh = access, refresh
	return s.Err
}

func (s *StubIdentity) CurrentUser(_ context.Context, _ string) (*model.User, error) {
	return s.User, s.Err
}

// StubAccounts records the last call.
type StubAccounts struct {
	Result *service.AuthResult
	Err    error

	Called  string
	GotKind service.TokenKind
}

func (s *StubAccounts) RequestSignup(context.Context, string) error {
	s.Called = "RequestSignup"
	return s.Err
}

func (s *StubAccounts) CheckToken(_ context.Context, _ string, kind service.TokenKind) error {
	s.Called, s.GotKind = "CheckToken", kind
	return s.Err
}

func (s *StubAccounts) CompleteOnboarding(context.Context, string, string, string) (*service.AuthResult, error) {
	s.Called = "CompleteOnboarding"
	return s.Result, s.Err
}

func (s *StubAccounts) ForgotPassword(context.Context, string) error {
	s.Called = "ForgotPassword"
	return s.Err
}

func (s *StubAccounts) ChangePassword(context.Context, string, string) error {
	s.Called = "ChangePassword"
	return s.Err
}

// StubGallery serves images from a map keyed by object key.
type StubGallery struct {
	Listing *service.Listing
	Images  map[string]*model.ImageObject
	Set     *model.ImageSet
	Total   int
	Err     error

	GotCursor   gallery.Cursor
	GotFileName string
	GotWidth    int
	GotData     []byte
}

func (s *StubGallery) DefaultGallery(_ context.Context, _ *model.User, cursor gallery.Cursor) (*service.Listing, error) {
	s.GotCursor = cursor
	return s.Listing, s.Err
}

func (s *StubGallery) Image(_ context.Context, _ *model.User, _, key string) (*model.ImageObject, error) {
	img, ok := s.Images[key]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return img, nil
}

func (s *StubGallery) Single(_ context.Context, _ *model.User, fileName string, width int) (*model.ImageObject, error) {
	s.GotFileName, s.GotWidth = fileName, width
	if s.Err != nil {
		return nil, s.Err
	}
	return &model.ImageObject{FileName: fileName, Resolution: service.ResolutionFor(width), ContentType: "image/webp", Data: []byte("webp!")}, nil
}

func (s *StubGallery) Upload(_ context.Context, _ *model.User, fileName string, data []byte) (*model.ImageSet, error) {
	s.GotFileName, s.GotData = fileName, data
	return s.Set, s.Err
}

func (s *StubGallery) Count(context.Context, *model.User) (int, error) {
	return s.Total, s.Err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
