package models

import "time"

// CooldownKind is the kind of temporary status restriction placed on a user.
type CooldownKind string

const (
	// CooldownKindPK is applied after a user is removed from an organization.
	CooldownKindPK CooldownKind = "PK"
	// CooldownKindBan is a ban-like restriction from joining organizations.
	CooldownKindBan CooldownKind = "BAN"
)

// CooldownKinds returns every cooldown kind in reconciliation order.
func CooldownKinds() []CooldownKind {
	return []CooldownKind{CooldownKindPK, CooldownKindBan}
}

// IsValidCooldownKind checks if the given kind is known.
func IsValidCooldownKind(kind string) bool {
	for _, k := range CooldownKinds() {
		if string(k) == kind {
			return true
		}
	}
	return false
}

// Cooldown is a time-bounded restriction on a single user. A user has at
// most one cooldown at a time.
type Cooldown struct {
	UserID             string       `json:"user_id"`
	Kind               CooldownKind `json:"kind"`
	ExpiresAt          time.Time    `json:"expires_at"`
	LastOrganizationID string       `json:"last_organization_id,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// NewCooldown creates a new Cooldown expiring at expiresAt.
func NewCooldown(userID string, kind CooldownKind, expiresAt time.Time, lastOrgID string) *Cooldown {
	now := time.Now()
	return &Cooldown{
		UserID:             userID,
		Kind:               kind,
		ExpiresAt:          expiresAt,
		LastOrganizationID: lastOrgID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// IsExpired reports whether the cooldown has ended at the given instant.
func (c *Cooldown) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Remaining returns the time left on the cooldown, or zero once expired.
func (c *Cooldown) Remaining(now time.Time) time.Duration {
	if c.IsExpired(now) {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}
