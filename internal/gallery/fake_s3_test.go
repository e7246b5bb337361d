package gallery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObject struct {
	data        []byte
	contentType string
	meta        map[string]string
	modified    time.Time
}

// fakeS3 is an in-memory S3 that pages, errors and counts calls like the
// real service does for the operations the Store uses.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]map[string]*fakeObject
	clock   time.Time
	calls   map[string]int

	// failPut, when set, can reject a PutObject by key.
	failPut func(key string) error
	// headBucketErr, when set, is returned by every HeadBucket.
	headBucketErr error
	// headBucketGate, when set, holds every HeadBucket until it is closed
	// or the call's context ends. headBucketEntered is signalled on entry.
	headBucketGate    chan struct{}
	headBucketEntered chan struct{}
	// createBucketErr, when set, is returned by CreateBucket after the
	// bucket appears, as when another request wins the race.
	createBucketErr error
	createBucketIn  []*s3.CreateBucketInput
}

var _ API = (*fakeS3)(nil)

func newFakeS3() *fakeS3 {
	return &fakeS3{
		buckets: make(map[string]map[string]*fakeObject),
		clock:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		calls:   make(map[string]int),
	}
}

func (f *fakeS3) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// addObject stores an object directly, bypassing call counting.
func (f *fakeS3) addObject(bucket, key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buckets[bucket] == nil {
		f.buckets[bucket] = make(map[string]*fakeObject)
	}
	f.clock = f.clock.Add(time.Second)
	f.buckets[bucket][key] = &fakeObject{data: data, modified: f.clock}
}

func (f *fakeS3) lastCreateBucket() *s3.CreateBucketInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.createBucketIn) == 0 {
		return nil
	}
	return f.createBucketIn[len(f.createBucketIn)-1]
}

func (f *fakeS3) keys(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.buckets[bucket] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headBucketGate != nil {
		f.headBucketEntered <- struct{}{}
		select {
		case <-f.headBucketGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["HeadBucket"]++
	if f.headBucketErr != nil {
		return nil, f.headBucketErr
	}
	if _, ok := f.buckets[aws.ToString(in.Bucket)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CreateBucket"]++
	f.createBucketIn = append(f.createBucketIn, in)
	name := aws.ToString(in.Bucket)
	if f.createBucketErr != nil {
		if f.buckets[name] == nil {
			f.buckets[name] = make(map[string]*fakeObject)
		}
		return nil, f.createBucketErr
	}
	if _, ok := f.buckets[name]; ok {
		return nil, &types.BucketAlreadyOwnedByYou{}
	}
	f.buckets[name] = make(map[string]*fakeObject)
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["HeadObject"]++
	objs, ok := f.buckets[aws.ToString(in.Bucket)]
	if !ok {
		return nil, &types.NotFound{}
	}
	obj, ok := objs[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(obj.data)))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["PutObject"]++
	if f.failPut != nil {
		if err := f.failPut(key); err != nil {
			return nil, err
		}
	}
	objs, ok := f.buckets[aws.ToString(in.Bucket)]
	if !ok {
		return nil, &types.NoSuchBucket{}
	}
	f.clock = f.clock.Add(time.Second)
	objs[key] = &fakeObject{
		data:        data,
		contentType: aws.ToString(in.ContentType),
		meta:        in.Metadata,
		modified:    f.clock,
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetObject"]++
	objs, ok := f.buckets[aws.ToString(in.Bucket)]
	if !ok {
		return nil, &types.NoSuchBucket{}
	}
	obj, ok := objs[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:         io.NopCloser(bytes.NewReader(obj.data)),
		ContentType:  aws.String(obj.contentType),
		Metadata:     obj.meta,
		LastModified: aws.Time(obj.modified),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteObject"]++
	delete(f.buckets[aws.ToString(in.Bucket)], aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectsV2 pages in lexicographic key order. The continuation token is
// the last key of the previous page, which is opaque enough for a fake.
func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListObjectsV2"]++
	objs, ok := f.buckets[aws.ToString(in.Bucket)]
	if !ok {
		return nil, &types.NoSuchBucket{}
	}

	prefix := aws.ToString(in.Prefix)
	after := strings.TrimPrefix(aws.ToString(in.ContinuationToken), "tok:")
	var keys []string
	for k := range objs {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	limit := int(aws.ToInt32(in.MaxKeys))
	if limit <= 0 {
		limit = 1000
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if len(keys) > limit {
		keys = keys[:limit]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String("tok:" + keys[len(keys)-1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			LastModified: aws.Time(objs[k].modified),
			Size:         aws.Int64(int64(len(objs[k].data))),
		})
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents)))
	return out, nil
}

var errFakeOutage = errors.New("connection reset by peer")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
