// Package policyfile persists the identity-to-package authorization map as
// a single JSON document keyed by identity. The whole document is rewritten
// on every mutation and reloaded in full at construction.
package policyfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"provd/internal/domain"
)

type record struct {
	AuthorizedPackages []string   `json:"authorized_packages"`
	Description        string     `json:"description,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}

// Store is a file-backed policy store. Lookups never create records:
// an identity that was never added is authorized for nothing.
type Store struct {
	mu       sync.RWMutex
	path     string
	clock    func() time.Time
	policies map[string]domain.Policy
}

func New(path string) (*Store, error) {
	return NewWithClock(path, time.Now)
}

func NewWithClock(path string, clock func() time.Time) (*Store, error) {
	if clock == nil {
		clock = time.Now
	}
	s := &Store{path: path, clock: clock, policies: map[string]domain.Policy{}}
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// IsAuthorized reports whether the identity may publish the package,
// after normalizing the name to its family. Unknown and expired
// identities deny. Read-only.
func (s *Store) IsAuthorized(ctx context.Context, identity, packageName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy, ok := s.policies[identity]
	if !ok {
		return false, nil
	}
	if policy.Expired(s.clock()) {
		return false, nil
	}
	return policy.Allows(domain.NormalizePackage(packageName)), nil
}

// AddPolicy upserts the identity's record and persists immediately.
func (s *Store) AddPolicy(ctx context.Context, policy domain.Policy) error {
	if policy.Identity == "" {
		return domain.ErrInvalidPolicy
	}
	packages := make([]string, len(policy.AuthorizedPackages))
	copy(packages, policy.AuthorizedPackages)
	policy.AuthorizedPackages = packages

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.policies[policy.Identity]
	s.policies[policy.Identity] = policy
	if err := s.persistLocked(); err != nil {
		if existed {
			s.policies[policy.Identity] = prev
		} else {
			delete(s.policies, policy.Identity)
		}
		return err
	}
	return nil
}

// RevokeGrant removes one package family from the identity's authorized
// set and persists. Unknown identities return domain.ErrNotFound.
func (s *Store) RevokeGrant(ctx context.Context, identity, packageName string) error {
	family := domain.NormalizePackage(packageName)

	s.mu.Lock()
	defer s.mu.Unlock()

	policy, ok := s.policies[identity]
	if !ok {
		return domain.ErrNotFound
	}
	kept := policy.AuthorizedPackages[:0:0]
	for _, pkg := range policy.AuthorizedPackages {
		if pkg != family {
			kept = append(kept, pkg)
		}
	}
	prev := policy
	policy.AuthorizedPackages = kept
	s.policies[identity] = policy
	if err := s.persistLocked(); err != nil {
		s.policies[identity] = prev
		return err
	}
	return nil
}

// ListPolicies returns all records sorted by identity.
func (s *Store) ListPolicies(ctx context.Context) ([]domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Policy, 0, len(s.policies))
	for _, policy := range s.policies {
		out = append(out, policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

// Reload re-reads the backing file, replacing the in-memory map. Used by
// the file watcher when the policy document is edited out of band.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// SeedDefaults installs the stock policy set on an empty store and
// persists it. Existing records are never overwritten.
func (s *Store) SeedDefaults() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.policies) > 0 {
		return nil
	}
	for _, policy := range DefaultPolicies() {
		s.policies[policy.Identity] = policy
	}
	return s.persistLocked()
}

// DefaultPolicies is the seed authorization set for a fresh store: a
// verified publisher, two scoped maintainers, and a known-bad identity
// authorized for nothing.
func DefaultPolicies() []domain.Policy {
	return []domain.Policy{
		{
			Identity:           "publisher@example.com",
			AuthorizedPackages: []string{"legitimate_pkg", "example_package", "mypackage"},
			Description:        "Verified example.com maintainer",
		},
		{
			Identity:           "requests-maintainer@python.org",
			AuthorizedPackages: []string{"requests"},
			Description:        "Official requests library maintainer",
		},
		{
			Identity:           "mirror-maintainer@cdn.org",
			AuthorizedPackages: []string{"mirror_pkg"},
			Description:        "CDN mirror package maintainer",
		},
		{
			Identity:           "attacker@malicious.com",
			AuthorizedPackages: []string{},
			Description:        "Unauthorized attacker account",
		},
	}
}

func (s *Store) loadLocked() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.policies = map[string]domain.Policy{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read policy store: %w", err)
	}
	var doc map[string]record
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode policy store: %w", err)
	}
	policies := make(map[string]domain.Policy, len(doc))
	for identity, rec := range doc {
		policies[identity] = domain.Policy{
			Identity:           identity,
			AuthorizedPackages: rec.AuthorizedPackages,
			Description:        rec.Description,
			ExpiresAt:          rec.ExpiresAt,
		}
	}
	s.policies = policies
	return nil
}

func (s *Store) persistLocked() error {
	doc := make(map[string]record, len(s.policies))
	for identity, policy := range s.policies {
		doc[identity] = record{
			AuthorizedPackages: policy.AuthorizedPackages,
			Description:        policy.Description,
			ExpiresAt:          policy.ExpiresAt,
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode policy store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".policies-*")
	if err != nil {
		return fmt.Errorf("persist policy store: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("persist policy store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("persist policy store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("persist policy store: %w", err)
	}
	return nil
}
