// Package auth answers which repositories an API key may read.
//
// The engine never sees raw keys at rest, a key is identified by the hex
// SHA-256 digest of its raw value and the binding set (the repositories
// bound to a key) lives in an external system of record behind the Store
// interface. The Binding is queried on every read.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	// ErrInvalidKey is returned when a key digest is not known to the store.
	ErrInvalidKey = errors.New("invalid or unknown API key")
)

// RepoRef identifies one tracked repository.
type RepoRef struct {
	Owner  string `yaml:"owner"`
	Repo   string `yaml:"repo"`
	Branch string `yaml:"branch"`
}

// KeyInfo is the record a Store keeps for one API key.
type KeyInfo struct {
	// display name of the key, never the key itself
	Name string

	// Repos is the binding set of the key
	Repos []RepoRef
}

// Store is the system of record for API keys and their binding sets.
// Lookups are by key digest only, raw keys are never compared.
type Store interface {
	// LookupKey returns the record for the given hex SHA-256 digest or
	// ErrInvalidKey if the digest is unknown.
	LookupKey(ctx context.Context, digest string) (*KeyInfo, error)
}

// Digest returns the hex SHA-256 digest of a raw API key.
func Digest(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// Binding resolves raw API keys against a Store.
type Binding struct {
	store Store
}

// NewBinding creates a Binding over the given store.
func NewBinding(store Store) *Binding {
	return &Binding{store: store}
}

// AccessibleRepositories returns every repository in the key's binding set.
// It returns ErrInvalidKey when the key is unknown.
func (b *Binding) AccessibleRepositories(ctx context.Context, rawKey string) ([]RepoRef, error) {
	info, err := b.store.LookupKey(ctx, Digest(rawKey))
	if err != nil {
		return nil, err
	}
	return info.Repos, nil
}

// CanAccess reports whether the key may read the given repository. It
// returns false for any reason: unknown key, no binding or no such
// repository.
func (b *Binding) CanAccess(ctx context.Context, rawKey, owner, repo, branch string) bool {
	info, err := b.store.LookupKey(ctx, Digest(rawKey))
	if err != nil {
		return false
	}
	for _, r := range info.Repos {
		if r.Owner == owner && r.Repo == repo && r.Branch == branch {
			return true
		}
	}
	return false
}
