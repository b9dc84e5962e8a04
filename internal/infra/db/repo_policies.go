package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"provd/internal/domain"
)

type PolicyRepository struct {
	db    *gorm.DB
	clock func() time.Time
}

func NewPolicyRepository(db *gorm.DB) *PolicyRepository {
	return &PolicyRepository{db: db, clock: time.Now}
}

func NewPolicyRepositoryWithClock(db *gorm.DB, clock func() time.Time) *PolicyRepository {
	return &PolicyRepository{db: db, clock: clock}
}

// IsAuthorized is default-deny: unknown identities, expired grants, and
// packages outside the identity's set all come back false without error.
func (r *PolicyRepository) IsAuthorized(ctx context.Context, identity, packageName string) (bool, error) {
	if r.db == nil {
		return false, errDBUnavailable
	}
	policy, err := r.get(ctx, identity)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if policy.Expired(r.clock().UTC()) {
		return false, nil
	}
	return policy.Allows(domain.NormalizePackage(packageName)), nil
}

func (r *PolicyRepository) AddPolicy(ctx context.Context, policy domain.Policy) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if policy.Identity == "" {
		return domain.ErrInvalidPolicy
	}
	packages, err := json.Marshal(policy.AuthorizedPackages)
	if err != nil {
		return err
	}
	model := PolicyModel{
		Identity:           policy.Identity,
		AuthorizedPackages: packages,
		Description:        policy.Description,
		ExpiresAt:          policy.ExpiresAt,
		UpdatedAt:          r.clock().UTC(),
	}

	var existing PolicyModel
	err = r.db.WithContext(ctx).Where("identity = ?", policy.Identity).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.WithContext(ctx).Create(&model).Error
	}
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&PolicyModel{}).
		Where("identity = ?", policy.Identity).
		Updates(map[string]any{
			"authorized_packages": model.AuthorizedPackages,
			"description":         model.Description,
			"expires_at":          model.ExpiresAt,
			"updated_at":          model.UpdatedAt,
		}).Error
}

// RevokeGrant removes the package family from the identity's set. The
// identity's policy row stays, possibly with an empty set.
func (r *PolicyRepository) RevokeGrant(ctx context.Context, identity, packageName string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	policy, err := r.get(ctx, identity)
	if err != nil {
		return err
	}

	family := domain.NormalizePackage(packageName)
	kept := policy.AuthorizedPackages[:0:0]
	for _, granted := range policy.AuthorizedPackages {
		if domain.NormalizePackage(granted) != family {
			kept = append(kept, granted)
		}
	}
	policy.AuthorizedPackages = kept
	return r.AddPolicy(ctx, policy)
}

func (r *PolicyRepository) ListPolicies(ctx context.Context) ([]domain.Policy, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []PolicyModel
	err := r.db.WithContext(ctx).Order("identity ASC").Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Policy, 0, len(models))
	for _, model := range models {
		policy, err := toPolicy(model)
		if err != nil {
			return nil, err
		}
		out = append(out, policy)
	}
	return out, nil
}

func (r *PolicyRepository) get(ctx context.Context, identity string) (domain.Policy, error) {
	var model PolicyModel
	err := r.db.WithContext(ctx).Where("identity = ?", identity).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Policy{}, domain.ErrNotFound
		}
		return domain.Policy{}, err
	}
	return toPolicy(model)
}

func toPolicy(model PolicyModel) (domain.Policy, error) {
	var packages []string
	if len(model.AuthorizedPackages) > 0 {
		if err := json.Unmarshal(model.AuthorizedPackages, &packages); err != nil {
			return domain.Policy{}, err
		}
	}
	return domain.Policy{
		Identity:           model.Identity,
		AuthorizedPackages: packages,
		Description:        model.Description,
		ExpiresAt:          model.ExpiresAt,
	}, nil
}
