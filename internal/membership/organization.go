package membership

import (
	"context"
	"fmt"

	"github.com/XpNow/PHX-Bot/internal/access"
	"github.com/XpNow/PHX-Bot/internal/models"
)

// targetOrganization returns the active organization orgID, or the actor's
// own organization when orgID is empty.
func (s *Service) targetOrganization(ctx context.Context, actor Actor, orgID string) (*models.Organization, error) {
	if orgID == "" {
		orgID = actor.Access.OrganizationID()
	}
	if orgID == "" {
		return nil, ErrOrganizationNotFound
	}
	return s.activeOrganization(ctx, orgID)
}

// Roster returns the members of an organization. An empty orgID means the
// actor's own organization.
func (s *Service) Roster(ctx context.Context, actor Actor, orgID string) (*models.Organization, []*models.Membership, error) {
	org, err := s.targetOrganization(ctx, actor, orgID)
	if err != nil {
		return nil, nil, err
	}
	if err := access.RequirePermission(actor.Access, access.PermOrgEdit, org); err != nil {
		return nil, nil, err
	}
	members, err := s.store.ListMembershipsByOrganization(ctx, org.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list members: %w", err)
	}
	return org, members, nil
}

// OrganizationCooldowns returns the cooldowns of users who last left the
// organization.
func (s *Service) OrganizationCooldowns(ctx context.Context, actor Actor, orgID string) (*models.Organization, []*models.Cooldown, error) {
	org, err := s.targetOrganization(ctx, actor, orgID)
	if err != nil {
		return nil, nil, err
	}
	if err := access.RequirePermission(actor.Access, access.PermOrgEdit, org); err != nil {
		return nil, nil, err
	}
	cooldowns, err := s.store.ListCooldownsByOrganization(ctx, org.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list cooldowns: %w", err)
	}
	return org, cooldowns, nil
}

// SetRank moves a member to rankKey within their organization. The new rank
// role must be granted; the old one is removed best-effort.
func (s *Service) SetRank(ctx context.Context, actor Actor, userID, rankKey string) (*models.Membership, error) {
	m, err := s.store.GetMembership(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	if m == nil {
		return nil, ErrNotMember
	}
	org, err := s.activeOrganization(ctx, m.OrganizationID)
	if err != nil {
		return nil, err
	}
	if err := access.RequirePermission(actor.Access, access.PermRankChange, org); err != nil {
		return nil, err
	}

	bindings, err := s.store.GetRankBindings(ctx, org.ID)
	if err != nil {
		return nil, fmt.Errorf("get rank bindings: %w", err)
	}
	var oldRole, newRole string
	known := rankKey == models.DefaultRankKey
	for _, b := range bindings {
		if b.RankKey == rankKey {
			known = true
			newRole = b.RoleID
		}
		if b.RankKey == m.RankKey {
			oldRole = b.RoleID
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: %s has no rank %q", ErrUnknownRank, org.ID, rankKey)
	}
	if m.RankKey == rankKey {
		return m, nil
	}

	if newRole != "" {
		if err := s.platform.AddRole(ctx, s.guildID, userID, newRole); err != nil {
			return nil, fmt.Errorf("grant rank role: %w", err)
		}
	}
	if oldRole != newRole {
		s.bestEffort(ctx, false, userID, oldRole)
	}

	previous := m.RankKey
	m.RankKey = rankKey
	m.UpdatedAt = s.now()
	if err := s.store.SetMembership(ctx, m); err != nil {
		return nil, fmt.Errorf("set membership: %w", err)
	}

	s.audit(ctx, models.NewAuditLog(models.AuditActionRankChange, actor.UserID).
		WithTarget(userID).
		WithOrganization(org.ID).
		WithDetails(map[string]any{"from": previous, "to": rankKey}))

	s.logger.Info().
		Str("user_id", userID).
		Str("organization_id", org.ID).
		Str("from", previous).
		Str("to", rankKey).
		Msg("rank changed")
	return m, nil
}

// DeleteOrganization deactivates an organization and drops its ranks.
// Members keep their membership rows and roles until removed.
func (s *Service) DeleteOrganization(ctx context.Context, actor Actor, orgID string) (*models.Organization, error) {
	if err := access.RequirePermission(actor.Access, access.PermOrgDelete, nil); err != nil {
		return nil, err
	}
	org, err := s.activeOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeactivateOrganization(ctx, org.ID); err != nil {
		return nil, err
	}
	org.Active = false

	s.audit(ctx, models.NewAuditLog(models.AuditActionOrgDelete, actor.UserID).
		WithOrganization(org.ID).
		WithDetails(map[string]any{"name": org.Name}))

	s.logger.Info().Str("organization_id", org.ID).Str("actor_id", actor.UserID).Msg("organization deleted")
	return org, nil
}

// ActiveWarnings returns an organization's ACTIVE warnings, newest first.
func (s *Service) ActiveWarnings(ctx context.Context, actor Actor, orgID string) (*models.Organization, []*models.Warning, error) {
	if err := access.RequirePermission(actor.Access, access.PermWarningManage, nil); err != nil {
		return nil, nil, err
	}
	org, err := s.activeOrganization(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}
	warnings, err := s.store.ListActiveWarnings(ctx, org.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list warnings: %w", err)
	}
	return org, warnings, nil
}
