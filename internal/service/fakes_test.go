package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pikoshi/pikoshi/internal/apperror"
	"github.com/pikoshi/pikoshi/internal/auth"
	"github.com/pikoshi/pikoshi/internal/cache"
	"github.com/pikoshi/pikoshi/internal/gallery"
	"github.com/pikoshi/pikoshi/internal/model"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository. It hands out
// copies, like a real store, so a service mutating a returned user does not
// change what is stored.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[int64]*model.User
	nextID int64

	// set to a non-nil error to simulate a database failure
	getErr    error
	createErr error
	markErr   error
	updateErr error

	creates int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]*model.User), nextID: 1}
}

func (f *fakeUserRepo) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return apperror.Conflict("user", u.Email)
		}
	}
	u.ID = f.nextID
	f.nextID++
	f.creates++
	copied := *u
	f.users[u.ID] = &copied
	return nil
}

func (f *fakeUserRepo) find(match func(*model.User) bool, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.users {
		if match(u) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", id)
}

func (f *fakeUserRepo) GetByID(_ context.Context, id int64) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.ID == id }, "")
}

func (f *fakeUserRepo) GetByUUID(_ context.Context, uuid string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.UUID == uuid }, uuid)
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Email == email }, email)
}

func (f *fakeUserRepo) update(id int64, fn func(*model.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", "")
	}
	fn(u)
	return nil
}

func (f *fakeUserRepo) MarkLoggedIn(_ context.Context, id int64, at time.Time) error {
	if f.markErr != nil {
		return f.markErr
	}
	return f.update(id, func(u *model.User) { u.IsActive, u.LastLogin = true, at })
}

func (f *fakeUserRepo) SetActive(_ context.Context, id int64, active bool) error {
	return f.update(id, func(u *model.User) { u.IsActive = active })
}

func (f *fakeUserRepo) UpdatePassword(_ context.Context, id int64, hash, salt string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.update(id, func(u *model.User) { u.Password, u.Salt = hash, salt })
}

// stored returns the persisted row for email, or nil.
func (f *fakeUserRepo) stored(email string) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			copied := *u
			return &copied
		}
	}
	return nil
}

// fakeOAuth maps authorization codes to profiles. An unknown code is a
// rejection; err, when set, simulates an outage.
type fakeOAuth struct {
	profiles map[string]*auth.GoogleProfile
	err      error
}

func (f *fakeOAuth) Exchange(_ context.Context, code string) (*auth.GoogleProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[code]
	if !ok {
		return nil, auth.ErrOAuthRejected
	}
	copied := *p
	return &copied, nil
}

// fakeNotifier records the link tokens it was asked to send.
type fakeNotifier struct {
	mu         sync.Mutex
	onboarding map[string]string // email → token
	resets     map[string]string
	err        error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{onboarding: map[string]string{}, resets: map[string]string{}}
}

func (f *fakeNotifier) SendOnboarding(to, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.onboarding[to] = token
	return nil
}

func (f *fakeNotifier) SendPasswordReset(to, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.resets[to] = token
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv is a fully wired identity + account stack over fakes and an
// in-process Redis.
type testEnv struct {
	repo     *fakeUserRepo
	redis    *miniredis.Miniredis
	sessions *cache.Redis
	tokens   *auth.TokenService
	hasher   *auth.Hasher
	google   *fakeOAuth
	notifier *fakeNotifier
	identity *IdentityService
	accounts *AccountService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	sessions, err := cache.NewRedis(context.Background(), cache.Options{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:     "test-secret-at-least-16-chars!!",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	env := &testEnv{
		repo:     newFakeUserRepo(),
		redis:    mr,
		sessions: sessions,
		tokens:   tokens,
		hasher:   auth.NewHasherForTest("test-pepper"),
		google:   &fakeOAuth{profiles: map[string]*auth.GoogleProfile{}},
		notifier: newFakeNotifier(),
	}
	env.identity = NewIdentityService(env.repo, env.sessions, env.tokens, env.hasher, env.google, discardLogger())
	env.accounts = NewAccountService(env.repo, env.sessions, env.hasher, env.notifier, env.identity, discardLogger())
	return env
}

// sessionOwner returns the cached user id for an access token, or "".
func (e *testEnv) sessionOwner(accessToken string) string {
	v, err := e.redis.Get(cache.SessionKey(accessToken))
	if err != nil {
		return ""
	}
	return v
}

// fakeImageStore is an in-memory ImageStore that records what it was asked.
type fakeImageStore struct {
	ensured   []string
	uploads   []string // fileName per upload
	lastRes   model.Resolution
	lastName  string
	lastAlbum string
	count     int
	page      *gallery.Page
	err       error
}

func (f *fakeImageStore) BucketFor(userUUID string) string {
	return gallery.NewSharder(100).BucketFor(userUUID)
}

func (f *fakeImageStore) EnsureUserSpace(_ context.Context, userUUID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.ensured = append(f.ensured, userUUID)
	return f.BucketFor(userUUID), nil
}

func (f *fakeImageStore) ListImages(_ context.Context, _, _, album string, _ int32, cursor gallery.Cursor, res model.Resolution) (*gallery.Page, error) {
	f.lastAlbum, f.lastRes = album, res
	if cursor.IsExhausted() || f.page == nil {
		return &gallery.Page{Next: gallery.Exhausted()}, nil
	}
	return f.page, nil
}

func (f *fakeImageStore) GetImage(_ context.Context, bucket, key string) (*model.ImageObject, error) {
	return &model.ImageObject{Bucket: bucket, Key: key, Data: []byte("img")}, nil
}

func (f *fakeImageStore) FetchSingle(_ context.Context, bucket, _, fileName string, res model.Resolution) (*model.ImageObject, error) {
	f.lastName, f.lastRes = fileName, res
	return &model.ImageObject{Bucket: bucket, FileName: fileName, Resolution: res}, nil
}

func (f *fakeImageStore) UploadImage(_ context.Context, bucket, _, album, fileName string, _ []byte) (*model.ImageSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastAlbum = album
	f.uploads = append(f.uploads, fileName)
	return &model.ImageSet{Bucket: bucket, ObjectName: gallery.ObjectName(fileName), FileName: fileName}, nil
}

func (f *fakeImageStore) CountImages(_ context.Context, _, _, album string) (int, error) {
	f.lastAlbum = album
	return f.count, nil
}
