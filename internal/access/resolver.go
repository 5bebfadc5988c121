// Package access derives a caller's authorization context from the platform
// roles they hold and the configured role mappings.
package access

import (
	"sort"

	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/XpNow/PHX-Bot/internal/settings"
)

// ScopeRole is the single coarse role a caller acts with.
type ScopeRole string

const (
	ScopeSupervisor ScopeRole = "SUPERVISOR"
	ScopeAdmin      ScopeRole = "ADMIN"
	ScopeOrgMember  ScopeRole = "ORG_MEMBER"
	ScopeMember     ScopeRole = "MEMBER"
)

// Manager rank keys. A caller holding one of these ranks acts with the rank
// key itself as their scope role.
const (
	RankLeader   = "LEADER"
	RankCoLeader = "COLEADER"
	RankChief    = "CHIEF"
	RankHR       = "HR"
	RankDirector = "DIRECTOR"
	RankDeputy   = "DEPUTY"
)

var managerRanks = map[string]bool{
	RankLeader:   true,
	RankCoLeader: true,
	RankChief:    true,
	RankHR:       true,
	RankDirector: true,
	RankDeputy:   true,
}

// IsManagerRank reports whether rankKey is one of the manager ranks.
func IsManagerRank(rankKey string) bool {
	return managerRanks[rankKey]
}

// Context is the authorization context of one caller for one interaction.
// It is derived fresh for every privileged operation and never cached.
type Context struct {
	ScopeRole         ScopeRole
	IsAdmin           bool
	IsSupervisor      bool
	CanManageWarnings bool
	Organization      *models.Organization
	RankKey           string

	// ConflictingOrganizationIDs lists other active organizations whose base
	// role the caller also holds.
	ConflictingOrganizationIDs []string
}

// OrganizationID returns the bound organization's id, or "" when unbound.
func (c Context) OrganizationID() string {
	if c.Organization == nil {
		return ""
	}
	return c.Organization.ID
}

// Input holds everything Resolve needs.
type Input struct {
	RoleIDs      []string
	CallerID     string
	GuildOwnerID string
	Settings     settings.Settings

	// Organizations may include inactive ones; they are ignored.
	Organizations []*models.Organization
	// RankBindings is keyed by organization id.
	RankBindings map[string][]*models.RankBinding
}

type roleSet map[string]struct{}

func newRoleSet(ids []string) roleSet {
	set := make(roleSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// has treats the empty id as never held so unset settings match nothing.
func (s roleSet) has(id string) bool {
	if id == "" {
		return false
	}
	_, ok := s[id]
	return ok
}

// Resolve computes the caller's authorization context. It is pure and total:
// absent configuration yields the least privileged result, never an error.
func Resolve(in Input) Context {
	roles := newRoleSet(in.RoleIDs)
	st := in.Settings

	var ctx Context
	ctx.IsSupervisor = (in.GuildOwnerID != "" && in.CallerID == in.GuildOwnerID) || roles.has(st.SupervisorRoleID)
	ctx.IsAdmin = ctx.IsSupervisor || roles.has(st.AdminRoleID)
	ctx.CanManageWarnings = ctx.IsSupervisor || roles.has(st.WarnManagerRoleID)

	matched := matchOrganizations(roles, in.Organizations)
	if len(matched) > 0 {
		ctx.Organization = matched[0]
		for _, o := range matched[1:] {
			ctx.ConflictingOrganizationIDs = append(ctx.ConflictingOrganizationIDs, o.ID)
		}
		ctx.RankKey = resolveRank(roles, in.RankBindings[ctx.Organization.ID])
	}

	switch {
	case ctx.IsSupervisor:
		ctx.ScopeRole = ScopeSupervisor
	case ctx.IsAdmin:
		ctx.ScopeRole = ScopeAdmin
	case ctx.Organization != nil && IsManagerRank(ctx.RankKey):
		ctx.ScopeRole = ScopeRole(ctx.RankKey)
	case ctx.Organization != nil:
		ctx.ScopeRole = ScopeOrgMember
	default:
		ctx.ScopeRole = ScopeMember
	}

	return ctx
}

// MatchOrganization returns the organization a caller with roleIDs belongs
// to, using the same ordering as Resolve.
func MatchOrganization(roleIDs []string, orgs []*models.Organization) *models.Organization {
	matched := matchOrganizations(newRoleSet(roleIDs), orgs)
	if len(matched) == 0 {
		return nil
	}
	return matched[0]
}

// matchOrganizations returns every active organization whose base role is
// held, ordered by ascending id so the first entry is stable regardless of
// how the store ordered them.
func matchOrganizations(roles roleSet, orgs []*models.Organization) []*models.Organization {
	var matched []*models.Organization
	for _, o := range orgs {
		if o == nil || !o.Active || !roles.has(o.BaseRoleID) {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID < matched[j].ID
	})
	return matched
}

// resolveRank picks the highest level binding whose role is held. Equal
// levels resolve to the lexically smallest rank key.
func resolveRank(roles roleSet, bindings []*models.RankBinding) string {
	var best *models.RankBinding
	for _, b := range bindings {
		if b == nil || !roles.has(b.RoleID) {
			continue
		}
		if best == nil || b.Level > best.Level || (b.Level == best.Level && b.RankKey < best.RankKey) {
			best = b
		}
	}
	if best == nil {
		return models.DefaultRankKey
	}
	return best.RankKey
}
