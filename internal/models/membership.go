package models

import "time"

// Membership records which organization a user belongs to and at what rank.
// A user belongs to at most one organization.
type Membership struct {
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	RankKey        string    `json:"rank_key"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewMembership creates a Membership at the default rank.
func NewMembership(userID, orgID string) *Membership {
	return &Membership{
		UserID:         userID,
		OrganizationID: orgID,
		RankKey:        DefaultRankKey,
		UpdatedAt:      time.Now(),
	}
}

// LastOrganization remembers the organization a user most recently left.
type LastOrganization struct {
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	LeftAt         time.Time `json:"left_at"`
}
