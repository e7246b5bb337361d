// Package cache is the short-lived key/value layer.
//
// Three kinds of entries live here, all with a TTL:
//
//	auth_session_{access token}         → user id      (1h)
//	signup_token_for_{token hash}       → email        (10m)
//	change_password_token_for_{token}   → email        (10m)
//
// The session entry is what makes logout real: a JWT stays
// cryptographically valid until it expires, but once its cache entry is
// gone the auth layer refuses it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key does not exist or has expired.
var ErrMiss = errors.New("cache: miss")

// Store is the contract the services depend on. Redis satisfies it in
// production; tests can use miniredis behind the same implementation.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// SessionKey is the cache key that keeps an access token alive.
func SessionKey(accessToken string) string { return "auth_session_" + accessToken }

// SignupTokenKey maps an onboarding link token to the email it was sent to.
func SignupTokenKey(token string) string { return "signup_token_for_" + token }

// ChangePasswordTokenKey maps a reset link token to the account email.
func ChangePasswordTokenKey(token string) string { return "change_password_token_for_" + token }

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Redis is a Store backed by github.com/redis/go-redis/v9.
type Redis struct {
	client *redis.Client
}

// NewRedis connects and pings, so a misconfigured address fails at startup
// rather than on the first login.
func NewRedis(ctx context.Context, opts Options) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: pinging redis at %s: %w", opts.Addr, err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	return v, translate(key, err)
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}

// Ping checks the server answers.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// redis.Nil is how go-redis reports a missing key; callers should not have
// to know about it.
func translate(key string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrMiss
	default:
		return fmt.Errorf("cache: get %s: %w", key, err)
	}
}
