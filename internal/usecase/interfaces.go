package usecase

import (
	"context"
	"time"

	"github.com/opencontainers/go-digest"

	"provd/internal/domain"
)

// Clock supplies the current time; tests inject a fixed one.
type Clock func() time.Time

// TransparencyLog is the append-only store of signing events.
//
// Append assigns the next strictly increasing index, persists the log, and
// returns the index; it fails only on storage errors, which are fatal to
// the caller. FindByHash is an exact content-digest match and returns
// domain.ErrNotFound on a miss; a miss is how hash-substitution attacks
// surface. FindByPackage returns entries newest-signing-time first.
// FindNewerThan returns entries of the same package family whose signing
// time is strictly later than the given one; a non-empty result is
// rollback evidence. Reset exists for test isolation only.
type TransparencyLog interface {
	Append(ctx context.Context, entry domain.LogEntry) (int64, error)
	FindByHash(ctx context.Context, hash digest.Digest) (*domain.LogEntry, error)
	FindByIdentity(ctx context.Context, identity string) ([]domain.LogEntry, error)
	FindByPackage(ctx context.Context, packageName string) ([]domain.LogEntry, error)
	FindNewerThan(ctx context.Context, packageName string, signingTime time.Time) ([]domain.LogEntry, error)
	Reset(ctx context.Context) error
}

// PolicyStore is the identity-to-package authorization mapping.
// IsAuthorized normalizes the package name to its family and is
// default-deny: unknown identities are authorized for nothing, and lookups
// never create records.
type PolicyStore interface {
	IsAuthorized(ctx context.Context, identity, packageName string) (bool, error)
	AddPolicy(ctx context.Context, policy domain.Policy) error
	RevokeGrant(ctx context.Context, identity, packageName string) error
	ListPolicies(ctx context.Context) ([]domain.Policy, error)
}

// AdmissionPolicy is an optional bundle-backed gate consulted by the
// publish gate after its built-in checks.
type AdmissionPolicy interface {
	Evaluate(ctx context.Context, input domain.AdmissionInput) (domain.AdmissionEvaluation, error)
}
