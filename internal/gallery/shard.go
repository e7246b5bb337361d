// Package gallery is the object-storage side of Pikoshi.
//
// A user's photos never get their own bucket. Providers cap the number of
// buckets per account (100 on AWS by default), so users are spread over a
// fixed pool of shared buckets and namespaced inside them by UUID:
//
//	bucket:  user-bucket-{sha256(uuid) mod N}
//	key:     {uuid}/{album}/{resolution}/{object name}
//
// Every upload is stored three times, once per model.Resolution, under the
// same object name so the renditions can be correlated.
package gallery

import (
	"crypto/sha256"
	"fmt"
	"math/big"
)

const (
	// MaxBucketCount is the provider's default bucket ceiling.
	MaxBucketCount = 100
	bucketPrefix   = "user-bucket-"
)

// Sharder maps user identities onto the bucket pool.
type Sharder struct {
	count int64
}

// NewSharder creates a Sharder over n buckets. n is clamped to
// [1, MaxBucketCount].
func NewSharder(n int) Sharder {
	if n <= 0 || n > MaxBucketCount {
		n = MaxBucketCount
	}
	return Sharder{count: int64(n)}
}

// Index returns sha256(userUUID) mod N, treating the whole 256-bit digest as
// one unsigned integer.
func (s Sharder) Index(userUUID string) int {
	sum := sha256.Sum256([]byte(userUUID))
	n := new(big.Int).SetBytes(sum[:])
	return int(n.Mod(n, big.NewInt(s.count)).Int64())
}

// BucketFor returns the name of the bucket holding userUUID's objects.
// It is a pure function: no I/O, same input, same bucket.
func (s Sharder) BucketFor(userUUID string) string {
	return fmt.Sprintf("%s%d", bucketPrefix, s.Index(userUUID))
}
