package models

import (
	"regexp"
	"time"
)

// OrganizationKind distinguishes the two families of organizations.
type OrganizationKind string

const (
	// OrganizationKindPrimary is a competing faction (gang, mafia).
	OrganizationKindPrimary OrganizationKind = "PRIMARY_FACTION"
	// OrganizationKindLegal is a legal institution (police, medics, government).
	OrganizationKindLegal OrganizationKind = "LEGAL_FACTION"
)

// ValidOrganizationKinds returns all organization kinds.
func ValidOrganizationKinds() []OrganizationKind {
	return []OrganizationKind{OrganizationKindPrimary, OrganizationKindLegal}
}

// IsValidOrganizationKind checks if the given kind is known.
func IsValidOrganizationKind(kind string) bool {
	for _, k := range ValidOrganizationKinds() {
		if string(k) == kind {
			return true
		}
	}
	return false
}

// DefaultRankKey is assigned to organization members that hold no rank role.
const DefaultRankKey = "MEMBER"

// Rank level bounds.
const (
	MinRankLevel = 0
	MaxRankLevel = 100
)

var (
	slugPattern    = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,31}$`)
	rankKeyPattern = regexp.MustCompile(`^[A-Z0-9_]{2,24}$`)
)

// IsValidOrganizationID reports whether id is a usable organization slug.
func IsValidOrganizationID(id string) bool {
	return slugPattern.MatchString(id)
}

// IsValidRankKey reports whether key is a well-formed rank key.
func IsValidRankKey(key string) bool {
	return rankKeyPattern.MatchString(key)
}

// Organization is a faction or institution members can belong to.
type Organization struct {
	ID         string           `json:"id" yaml:"id"`
	Name       string           `json:"name" yaml:"name"`
	Kind       OrganizationKind `json:"kind" yaml:"kind"`
	BaseRoleID string           `json:"base_role_id,omitempty" yaml:"base_role_id"`
	Active     bool             `json:"active" yaml:"-"`
	CreatedAt  time.Time        `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time        `json:"updated_at" yaml:"-"`
}

// NewOrganization creates a new active Organization.
func NewOrganization(id, name string, kind OrganizationKind, baseRoleID string) *Organization {
	now := time.Now()
	return &Organization{
		ID:         id,
		Name:       name,
		Kind:       kind,
		BaseRoleID: baseRoleID,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// RankBinding maps a rank inside an organization to a platform role.
type RankBinding struct {
	OrganizationID string `json:"organization_id"`
	RankKey        string `json:"rank_key"`
	RoleID         string `json:"role_id,omitempty"`
	Level          int    `json:"level"`
}

// NewRankBinding creates a new RankBinding.
func NewRankBinding(orgID, rankKey, roleID string, level int) *RankBinding {
	return &RankBinding{
		OrganizationID: orgID,
		RankKey:        rankKey,
		RoleID:         roleID,
		Level:          level,
	}
}

// IsValidRankLevel reports whether level lies within the accepted range.
func IsValidRankLevel(level int) bool {
	return level >= MinRankLevel && level <= MaxRankLevel
}
