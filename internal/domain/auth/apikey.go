package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
)

var (
	// ErrUnauthorized is returned for unknown, inactive or malformed API keys.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrCustomerNotFound is returned for unknown customer ids.
	ErrCustomerNotFound = errors.New("customer not found")
)

// Role distinguishes customers from back-office operators.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Principal is the authenticated caller. It is passed explicitly to every
// order operation.
type Principal struct {
	CustomerID int64
	Email      string
	Role       Role
}

// IsAdmin reports whether p may act on orders of any customer.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// APIKeyInfo holds the identity bound to an API key.
type APIKeyInfo struct {
	ID         string
	KeyHash    string
	Name       string
	CustomerID int64
	Email      string
	Role       Role
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Authenticator resolves raw API keys to principals.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator using the given HMAC pepper.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// HashKey returns the hex HMAC-SHA256 of key under pepper, as stored in api_keys.
func HashKey(key string, pepper []byte) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate looks up key and returns the principal it identifies.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (Principal, error) {
	if key == "" {
		return Principal{}, ErrUnauthorized
	}
	hash := HashKey(key, a.pepper)

	info, err := a.keys.FindByHash(ctx, hash)
	if err != nil {
		return Principal{}, ErrUnauthorized
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return Principal{}, ErrUnauthorized
	}
	computed, _ := hex.DecodeString(hash)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return Principal{}, ErrUnauthorized
	}

	switch info.Role {
	case RoleAdmin:
		return Principal{Role: RoleAdmin, Email: info.Email}, nil
	case RoleCustomer:
		if info.CustomerID == 0 {
			return Principal{}, ErrUnauthorized
		}
		return Principal{CustomerID: info.CustomerID, Email: info.Email, Role: RoleCustomer}, nil
	default:
		return Principal{}, ErrUnauthorized
	}
}
