// Package auth holds the credential and secret primitives.
//
// WHY NOT BCRYPT?
// bcrypt generates and embeds its own salt, so the same input never produces
// the same output twice. Our OAuth2 accounts need the opposite: at every
// Google login we re-derive the "password" digest from the provider's
// subject id and the stored salt and compare it with the stored digest. That
// requires a deterministic function of (value, salt, pepper).
//
// argon2id gives us that determinism while staying memory-hard, so a leaked
// users table is still expensive to brute-force.
//
// PEPPER VS SALT:
//   - salt   → random per user, stored next to the digest
//   - pepper → one server-wide secret, never stored in the database
//
// An attacker who steals only the database still lacks the pepper.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/crypto/argon2"
)

const (
	saltBytes   = 16
	digestBytes = 32
)

// HashParams are the argon2id cost parameters.
type HashParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultHashParams follows the RFC 9106 second recommended option, scaled
// down to 64 MiB so a login stays well under a second on small instances.
func DefaultHashParams() HashParams {
	return HashParams{Time: 1, MemoryKiB: 64 * 1024, Threads: 2}
}

// Hasher derives and verifies salted, peppered digests.
//
// It's a struct (not free functions) so that the pepper and cost can be
// injected; tests use tiny parameters to stay fast.
type Hasher struct {
	pepper []byte
	params HashParams
	now    func() time.Time
}

// NewHasher creates a Hasher. The pepper must not be empty.
func NewHasher(pepper string, params HashParams) (*Hasher, error) {
	if pepper == "" {
		return nil, errors.New("auth: pepper must not be empty")
	}
	if params.Time == 0 || params.MemoryKiB == 0 || params.Threads == 0 {
		return nil, errors.New("auth: hash parameters must be positive")
	}
	return &Hasher{pepper: []byte(pepper), params: params, now: time.Now}, nil
}

// NewHasherForTest returns a Hasher with the smallest argon2 parameters.
// Do NOT use in production.
func NewHasherForTest(pepper string) *Hasher {
	return &Hasher{
		pepper: []byte(pepper),
		params: HashParams{Time: 1, MemoryKiB: 64, Threads: 1},
		now:    time.Now,
	}
}

// HashValue returns the hex digest of value || salt || pepper.
// The same inputs always produce the same output.
func (h *Hasher) HashValue(value, salt string) string {
	key := argon2.IDKey(
		[]byte(value),
		h.saltWithPepper(salt),
		h.params.Time,
		h.params.MemoryKiB,
		h.params.Threads,
		digestBytes,
	)
	return hex.EncodeToString(key)
}

// VerifyValue recomputes the digest and compares it in constant time.
func (h *Hasher) VerifyValue(value, digest, salt string) bool {
	computed := h.HashValue(value, salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}

// GenerateSalt returns 16 random bytes, hex-encoded.
func (h *Hasher) GenerateSalt() (string, error) {
	b := make([]byte, saltBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateTokenHash returns a URL-safe token for onboarding and reset links.
//
// The HMAC key is fresh randomness on every call and is discarded, so the
// token can never be recomputed. It is only meaningful while the cache entry
// that references it is alive.
func (h *Hasher) GenerateTokenHash(seed string) (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("auth: generating token key: %w", err)
	}

	message := []byte(seed + strconv.FormatInt(h.now().Unix(), 10))
	mac := hmac.New(sha256.New, key)
	mac.Write(message)

	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (h *Hasher) saltWithPepper(salt string) []byte {
	b := make([]byte, 0, len(salt)+len(h.pepper))
	b = append(b, salt...)
	return append(b, h.pepper...)
}
