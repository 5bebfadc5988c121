package access

import (
	"errors"

	"github.com/XpNow/PHX-Bot/internal/models"
)

// ErrPermissionDenied is returned when a caller may not perform an action.
// Its message is safe to show to the caller.
var ErrPermissionDenied = errors.New("permission denied")

// Permission names a privileged action.
type Permission string

const (
	PermMenuUse        Permission = "menu:use"
	PermOrgEdit        Permission = "org:edit"
	PermOrgDelete      Permission = "org:delete"
	PermMemberManage   Permission = "member:manage"
	PermRankChange     Permission = "rank:change"
	PermCooldownManage Permission = "cooldown:manage"
	PermWarningManage  Permission = "warning:manage"
	PermFactionAlert   Permission = "faction:alert"
)

var primaryManagerRanks = map[string]bool{RankLeader: true, RankCoLeader: true}

var legalManagerRanks = map[string]bool{RankChief: true, RankHR: true, RankDirector: true, RankDeputy: true}

// IsPrimaryManager reports whether the caller leads a primary faction.
func IsPrimaryManager(c Context) bool {
	return c.Organization != nil && c.Organization.Kind == models.OrganizationKindPrimary && primaryManagerRanks[c.RankKey]
}

// IsLegalManager reports whether the caller manages a legal faction.
func IsLegalManager(c Context) bool {
	return c.Organization != nil && c.Organization.Kind == models.OrganizationKindLegal && legalManagerRanks[c.RankKey]
}

func isStaff(c Context) bool {
	return c.IsAdmin || c.IsSupervisor
}

func sameOrganization(c Context, org *models.Organization) bool {
	return org != nil && c.Organization != nil && c.Organization.ID == org.ID
}

// CanUseMenu reports whether the caller may open the organization menu.
func CanUseMenu(c Context) bool {
	return isStaff(c) || IsPrimaryManager(c) || IsLegalManager(c)
}

// CanEditOrganization reports whether the caller may edit org.
func CanEditOrganization(c Context, org *models.Organization) bool {
	return isStaff(c) || sameOrganization(c, org)
}

// CanDeleteOrganization reports whether the caller may deactivate organizations.
func CanDeleteOrganization(c Context) bool {
	return isStaff(c)
}

// CanManageMembers reports whether the caller may add or remove members of org.
func CanManageMembers(c Context, org *models.Organization) bool {
	if org == nil {
		return false
	}
	if isStaff(c) {
		return true
	}
	if !sameOrganization(c, org) {
		return false
	}
	switch org.Kind {
	case models.OrganizationKindPrimary:
		return primaryManagerRanks[c.RankKey]
	case models.OrganizationKindLegal:
		return legalManagerRanks[c.RankKey]
	}
	return false
}

// CanPromoteDemote reports whether the caller may change ranks inside org.
// Only legal factions manage ranks themselves.
func CanPromoteDemote(c Context, org *models.Organization) bool {
	if org == nil {
		return false
	}
	if isStaff(c) {
		return true
	}
	return sameOrganization(c, org) && org.Kind == models.OrganizationKindLegal && legalManagerRanks[c.RankKey]
}

// CanManageCooldowns reports whether the caller may set or clear cooldowns by hand.
func CanManageCooldowns(c Context) bool {
	return isStaff(c)
}

// CanIssueWarnings reports whether the caller may issue or expire warnings.
func CanIssueWarnings(c Context) bool {
	return c.CanManageWarnings
}

// CanFactionAlert reports whether the caller may raise a faction alert.
func CanFactionAlert(c Context) bool {
	if isStaff(c) {
		return true
	}
	return c.Organization != nil && c.Organization.Kind == models.OrganizationKindPrimary
}

// HasPermission checks a permission against the caller's context. org is
// the target organization for organization-scoped permissions and may be nil
// otherwise.
func HasPermission(c Context, perm Permission, org *models.Organization) bool {
	switch perm {
	case PermMenuUse:
		return CanUseMenu(c)
	case PermOrgEdit:
		return CanEditOrganization(c, org)
	case PermOrgDelete:
		return CanDeleteOrganization(c)
	case PermMemberManage:
		return CanManageMembers(c, org)
	case PermRankChange:
		return CanPromoteDemote(c, org)
	case PermCooldownManage:
		return CanManageCooldowns(c)
	case PermWarningManage:
		return CanIssueWarnings(c)
	case PermFactionAlert:
		return CanFactionAlert(c)
	}
	return false
}

// RequirePermission returns ErrPermissionDenied if the caller lacks perm.
func RequirePermission(c Context, perm Permission, org *models.Organization) error {
	if !HasPermission(c, perm, org) {
		return ErrPermissionDenied
	}
	return nil
}
