package auth

import (
	"context"
	"fmt"
	"sync"
)

// StaticStore is an in-memory Store seeded from static config. The admin
// CRUD layer (the real system of record) keeps it coherent through the
// mutation methods.
//
// A StaticStore is safe for concurrent use by multiple goroutines.
type StaticStore struct {
	mu   sync.RWMutex
	keys map[string]*KeyInfo // by hex sha256 digest
}

// KeyConfig is the config file shape of one API key entry. Exactly one of
// Key or KeyDigest must be set, storing the raw key in config is meant for
// dev setups only.
type KeyConfig struct {
	Name string `yaml:"name"`

	// Key is the raw bearer token value
	Key string `yaml:"key"`

	// KeyDigest is the hex sha256 digest of the token value
	KeyDigest string `yaml:"key_sha256"`

	// Repositories is the binding set of the key
	Repositories []RepoRef `yaml:"repositories"`
}

// NewStaticStore creates a store from the given key entries.
func NewStaticStore(keys []KeyConfig) (*StaticStore, error) {
	s := &StaticStore{keys: make(map[string]*KeyInfo)}

	for _, kc := range keys {
		digest, err := digestFromConfig(kc)
		if err != nil {
			return nil, err
		}
		s.keys[digest] = &KeyInfo{
			Name:  kc.Name,
			Repos: append([]RepoRef(nil), kc.Repositories...),
		}
	}

	return s, nil
}

func digestFromConfig(kc KeyConfig) (string, error) {
	switch {
	case kc.Key != "" && kc.KeyDigest != "":
		return "", fmt.Errorf("api key %q: key and key_sha256 are mutually exclusive", kc.Name)
	case kc.Key != "":
		return Digest(kc.Key), nil
	case kc.KeyDigest != "":
		return kc.KeyDigest, nil
	default:
		return "", fmt.Errorf("api key %q: either key or key_sha256 is required", kc.Name)
	}
}

// LookupKey implements Store.
func (s *StaticStore) LookupKey(_ context.Context, digest string) (*KeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.keys[digest]
	if !ok {
		return nil, ErrInvalidKey
	}

	// callers must not see later mutations
	cp := &KeyInfo{Name: info.Name, Repos: append([]RepoRef(nil), info.Repos...)}
	return cp, nil
}

// UpsertKey creates or replaces the record for the given digest.
func (s *StaticStore) UpsertKey(digest, name string, repos []RepoRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[digest] = &KeyInfo{Name: name, Repos: append([]RepoRef(nil), repos...)}
}

// RemoveKey deletes the record for the given digest if present.
func (s *StaticStore) RemoveKey(digest string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.keys, digest)
}

// BindRepository adds the repository to the key's binding set. Unknown
// digests and duplicate bindings are no-ops.
func (s *StaticStore) BindRepository(digest string, ref RepoRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.keys[digest]
	if !ok {
		return
	}
	for _, r := range info.Repos {
		if r == ref {
			return
		}
	}
	info.Repos = append(info.Repos, ref)
}

// UnbindRepository removes the repository from the key's binding set.
func (s *StaticStore) UnbindRepository(digest string, ref RepoRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.keys[digest]
	if !ok {
		return
	}
	repos := info.Repos[:0]
	for _, r := range info.Repos {
		if r != ref {
			repos = append(repos, r)
		}
	}
	info.Repos = repos
}

// UnbindRepositoryAll removes the repository from every key's binding set,
// used when a repository is deleted from the system of record.
func (s *StaticStore) UnbindRepositoryAll(ref RepoRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, info := range s.keys {
		repos := info.Repos[:0]
		for _, r := range info.Repos {
			if r != ref {
				repos = append(repos, r)
			}
		}
		info.Repos = repos
	}
}
