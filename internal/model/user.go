// Package model defines the data structures used throughout the application.
package model

import "time"

// SignupMethod records which credential scheme created an account.
type SignupMethod string

const (
	SignupEmail  SignupMethod = "email"
	SignupOAuth2 SignupMethod = "oauth2"
)

// User represents a registered account.
//
// ID is assigned by the store and never leaves the server except as the value
// of a session cache entry. UUID is the client-facing identity: it is the
// subject of every issued token and the input to bucket sharding, so it is
// generated once at signup and never changes.
//
// Password and Salt are present for OAuth2 signups too. For those accounts
// Password is the digest of the provider's subject id, which lets login
// verify the provider identity the same way it verifies a typed password.
// Neither field is ever serialized.
type User struct {
	ID             int64        `json:"-"`
	UUID           string       `json:"uuid"`
	Name           string       `json:"name"`
	Email          string       `json:"email"`
	Password       string       `json:"-"`
	Salt           string       `json:"-"`
	IsActive       bool         `json:"isActive"`
	SignedUpMethod SignupMethod `json:"signedUpMethod"`
	CreatedAt      time.Time    `json:"createdAt"`
	LastLogin      time.Time    `json:"lastLogin"`
}
