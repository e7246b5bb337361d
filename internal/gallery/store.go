package gallery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pikoshi/pikoshi/internal/apperror"
	"github.com/pikoshi/pikoshi/internal/model"
	"golang.org/x/sync/singleflight"
)

const (
	storageService = "object storage"
	metaFileName   = "filename"
)

// Page is one page of a listing.
type Page struct {
	Objects []model.ImageObject // metadata only, Data is nil
	Next    Cursor
}

// Options configures a Store.
type Options struct {
	BucketCount int
	Region      string        // location constraint for new buckets
	Timeout     time.Duration // bound on each provider call
}

// Store is the S3-backed gallery.
//
// Every provider error is converted to apperror.Upstream at this boundary,
// except the not-found cases the operations give meaning to. Nothing is
// retried.
type Store struct {
	api     API
	sharder Sharder
	resizer Resizer
	region  string
	timeout time.Duration
	logger  *slog.Logger

	flight      singleflight.Group
	placeholder placeholders
}

// NewStore creates a Store.
func NewStore(api API, resizer Resizer, opts Options, logger *slog.Logger) *Store {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Store{
		api:     api,
		sharder: NewSharder(opts.BucketCount),
		resizer: resizer,
		region:  opts.Region,
		timeout: timeout,
		logger:  logger,
	}
}

// BucketFor exposes the shard mapping.
func (s *Store) BucketFor(userUUID string) string {
	return s.sharder.BucketFor(userUUID)
}

func (s *Store) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// =========================================================================
// USER SPACE
// =========================================================================

// EnsureUserSpace makes sure the user's shard bucket and default album exist
// and returns the bucket name.
//
// The first time it sees a user it seeds the album with the placeholder
// image at all three resolutions, so a gallery is never empty. The album
// marker is written last: if seeding fails halfway, the next call sees no
// marker and seeds again.
//
// Concurrent calls for the same user share one execution. The shared
// execution is detached from the caller that started it, so one cancelled
// request does not fail the others waiting on it; each caller still stops
// waiting when its own context ends.
func (s *Store) EnsureUserSpace(ctx context.Context, userUUID string) (string, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(userUUID, func() (any, error) {
		return s.ensureUserSpace(shared, userUUID)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *Store) ensureUserSpace(ctx context.Context, userUUID string) (string, error) {
	bucket := s.sharder.BucketFor(userUUID)

	if err := s.ensureBucket(ctx, bucket); err != nil {
		return "", err
	}

	marker := AlbumMarkerKey(userUUID, DefaultAlbum)
	exists, err := s.objectExists(ctx, bucket, marker)
	if err != nil {
		return "", err
	}
	if exists {
		return bucket, nil
	}

	if err := s.seedPlaceholders(ctx, bucket, userUUID); err != nil {
		return "", err
	}
	if err := s.put(ctx, bucket, marker, nil, "application/x-directory", ""); err != nil {
		return "", apperror.Upstream(storageService, err)
	}

	s.logger.Info("user space created", "bucket", bucket, "userUUID", userUUID)
	return bucket, nil
}

// ensureBucket checks before creating. Losing a creation race to ourselves
// is success; a name held by another account is not.
func (s *Store) ensureBucket(ctx context.Context, bucket string) error {
	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	_, err := s.api.HeadBucket(callCtx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return apperror.Upstream(storageService, fmt.Errorf("head bucket %s: %w", bucket, err))
	}

	_, err = s.api.CreateBucket(callCtx, s.createBucketInput(bucket))
	switch {
	case err == nil:
		s.logger.Info("bucket created", "bucket", bucket, "region", s.region)
	case isOwnedByUs(err):
	case isOwnedByOthers(err):
		s.logger.Error("bucket name belongs to another account", "bucket", bucket)
		return apperror.Upstream(storageService, fmt.Errorf("create bucket %s: %w", bucket, err))
	default:
		return apperror.Upstream(storageService, fmt.Errorf("create bucket %s: %w", bucket, err))
	}
	return nil
}

// us-east-1 is the default location and S3 rejects it as an explicit
// constraint.
func (s *Store) createBucketInput(bucket string) *s3.CreateBucketInput {
	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if s.region != "" && s.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	return in
}

func (s *Store) objectExists(ctx context.Context, bucket, key string) (bool, error) {
	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	_, err := s.api.HeadObject(callCtx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, apperror.Upstream(storageService, fmt.Errorf("head object %s: %w", key, err))
	}
}

func (s *Store) seedPlaceholders(ctx context.Context, bucket, userUUID string) error {
	renditions, err := s.placeholder.get(s.resizer)
	if err != nil {
		return fmt.Errorf("gallery: rendering placeholder: %w", err)
	}

	name := ObjectName(PlaceholderFileName)
	for _, res := range model.Resolutions {
		r := renditions[res]
		key := ObjectKey(userUUID, DefaultAlbum, res, name)
		if err := s.put(ctx, bucket, key, r.Data, r.ContentType, PlaceholderFileName); err != nil {
			return apperror.Upstream(storageService, err)
		}
	}
	return nil
}

// =========================================================================
// LISTING
// =========================================================================

// ListImages returns one page of an album rendition, newest first.
//
// An exhausted cursor returns an empty page without calling the provider.
// A bucket that does not exist yet is an empty album, not an error.
// Ordering is applied within the page; the provider pages in key order.
func (s *Store) ListImages(ctx context.Context, bucket, userUUID, album string, maxKeys int32, cursor Cursor, res model.Resolution) (*Page, error) {
	if cursor.IsExhausted() {
		return &Page{Next: Exhausted()}, nil
	}

	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(ResolutionPrefix(userUUID, album, res)),
		MaxKeys: aws.Int32(maxKeys),
	}
	if tok := cursor.Token(); tok != "" {
		in.ContinuationToken = aws.String(tok)
	}

	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	out, err := s.api.ListObjectsV2(callCtx, in)
	if err != nil {
		if errorCode(err) == "NoSuchBucket" {
			return &Page{Next: Exhausted()}, nil
		}
		return nil, apperror.Upstream(storageService, fmt.Errorf("list %s: %w", aws.ToString(in.Prefix), err))
	}

	page := &Page{Next: Exhausted()}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if isDirMarker(key) {
			continue
		}
		page.Objects = append(page.Objects, model.ImageObject{
			Bucket:       bucket,
			Key:          key,
			Resolution:   res,
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	sort.SliceStable(page.Objects, func(i, j int) bool {
		return page.Objects[i].LastModified.After(page.Objects[j].LastModified)
	})

	if aws.ToBool(out.IsTruncated) && aws.ToString(out.NextContinuationToken) != "" {
		page.Next = At(aws.ToString(out.NextContinuationToken))
	}
	return page, nil
}

// CountImages counts the images in an album by walking its thumbnail
// rendition.
func (s *Store) CountImages(ctx context.Context, bucket, userUUID, album string) (int, error) {
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(ResolutionPrefix(userUUID, album, model.ResolutionThumbnail)),
	})

	count := 0
	for p.HasMorePages() {
		callCtx, cancel := s.callCtx(ctx)
		out, err := p.NextPage(callCtx)
		cancel()
		if err != nil {
			if errorCode(err) == "NoSuchBucket" {
				return 0, nil
			}
			return 0, apperror.Upstream(storageService, err)
		}
		for _, obj := range out.Contents {
			if !isDirMarker(aws.ToString(obj.Key)) {
				count++
			}
		}
	}
	return count, nil
}

// =========================================================================
// OBJECTS
// =========================================================================

// GetImage downloads one object with its metadata.
func (s *Store) GetImage(ctx context.Context, bucket, key string) (*model.ImageObject, error) {
	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	out, err := s.api.GetObject(callCtx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound("image", key)
		}
		return nil, apperror.Upstream(storageService, fmt.Errorf("get %s: %w", key, err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperror.Upstream(storageService, fmt.Errorf("read %s: %w", key, err))
	}

	return &model.ImageObject{
		Bucket:       bucket,
		Key:          key,
		FileName:     decodeFileName(out.Metadata[metaFileName], key),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
		Data:         data,
	}, nil
}

// FetchSingle resolves one image of the default album by its original
// filename. The key is rebuilt from the filename, so no listing is needed.
func (s *Store) FetchSingle(ctx context.Context, bucket, userUUID, fileName string, res model.Resolution) (*model.ImageObject, error) {
	key := ObjectKey(userUUID, DefaultAlbum, res, ObjectName(fileName))
	obj, err := s.GetImage(ctx, bucket, key)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("image", fileName)
		}
		return nil, err
	}
	obj.Resolution = res
	return obj, nil
}

// UploadImage stores src at all three resolutions of an album.
//
// The three puts are not atomic. If one fails, the renditions already
// written are deleted so the album never shows a partial image set, and the
// failure is reported as Upstream.
func (s *Store) UploadImage(ctx context.Context, bucket, userUUID, album, fileName string, src []byte) (*model.ImageSet, error) {
	renditions, err := s.resizer.Render(ctx, src)
	if err != nil {
		return nil, err
	}

	name := ObjectName(fileName)
	set := &model.ImageSet{
		Bucket:     bucket,
		ObjectName: name,
		FileName:   fileName,
		Keys:       make(map[model.Resolution]string, len(model.Resolutions)),
	}

	var written []string
	for _, res := range model.Resolutions {
		r := renditions[res]
		key := ObjectKey(userUUID, album, res, name)
		if err := s.put(ctx, bucket, key, r.Data, r.ContentType, fileName); err != nil {
			s.compensate(ctx, bucket, written)
			return nil, apperror.Upstream(storageService, fmt.Errorf("upload %s at %s: %w", fileName, res, err))
		}
		written = append(written, key)
		set.Keys[res] = key
	}

	s.logger.Info("image uploaded", "bucket", bucket, "userUUID", userUUID, "objectName", name)
	return set, nil
}

// compensate deletes the renditions of a failed upload. It is best-effort:
// a key that cannot be deleted is logged for an operator.
func (s *Store) compensate(ctx context.Context, bucket string, keys []string) {
	// The request context may be the thing that failed.
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		callCtx, cancel := s.callCtx(ctx)
		_, err := s.api.DeleteObject(callCtx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
		cancel()
		if err != nil {
			s.logger.Error("orphaned rendition after failed upload", "bucket", bucket, "key", key, "error", err)
			continue
		}
		s.logger.Warn("rolled back rendition after failed upload", "bucket", bucket, "key", key)
	}
}

func (s *Store) put(ctx context.Context, bucket, key string, data []byte, contentType, fileName string) error {
	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	in := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	}
	if fileName != "" {
		in.Metadata = map[string]string{metaFileName: url.QueryEscape(fileName)}
	}

	if _, err := s.api.PutObject(callCtx, in); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// S3 user metadata is ASCII-only, so filenames are stored query-escaped.
func decodeFileName(stored, key string) string {
	if stored == "" {
		return key[strings.LastIndex(key, "/")+1:]
	}
	name, err := url.QueryUnescape(stored)
	if err != nil {
		return stored
	}
	return name
}
