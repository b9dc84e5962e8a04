package domain

import "time"

// Policy maps one signing identity to the set of package families it may
// publish. Identities absent from the store are authorized for nothing.
type Policy struct {
	Identity           string   `json:"identity"`
	AuthorizedPackages []string `json:"authorized_packages"`
	Description        string   `json:"description,omitempty"`

	// ExpiresAt, when set, bounds the grant: an expired policy denies
	// exactly like a missing one.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the policy's grant window has elapsed at now.
func (p Policy) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// Allows reports whether the policy covers the given package family.
// The name must already be normalized; see NormalizePackage.
func (p Policy) Allows(family string) bool {
	for _, pkg := range p.AuthorizedPackages {
		if pkg == family {
			return true
		}
	}
	return false
}
