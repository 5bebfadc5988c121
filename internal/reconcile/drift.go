package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/XpNow/PHX-Bot/internal/platform"
	"github.com/XpNow/PHX-Bot/internal/settings"
)

// correctDrift restores missing status roles for unexpired cooldowns and
// records cooldowns for status roles granted outside the bot. It only ever
// adds roles and creates records.
func (s *Scheduler) correctDrift(ctx context.Context, now time.Time, st settings.Settings, report *TickReport) error {
	var kinds []models.CooldownKind
	for _, k := range models.CooldownKinds() {
		if st.RoleFor(k) != "" {
			kinds = append(kinds, k)
		}
	}
	if len(kinds) == 0 {
		s.logger.Debug().Msg("no status roles configured, skipping drift correction")
		return nil
	}

	members, err := s.platform.Members(ctx, s.config.GuildID)
	if err != nil {
		return fmt.Errorf("fetch members: %w", err)
	}
	byID := make(map[string]*platform.Member, len(members))
	for _, m := range members {
		byID[m.UserID] = m
	}

	records := make(map[models.CooldownKind][]*models.Cooldown)
	byUser := make(map[string]*models.Cooldown)
	for _, k := range models.CooldownKinds() {
		list, err := s.store.ListCooldowns(ctx, k)
		if err != nil {
			return fmt.Errorf("list %s cooldowns: %w", k, err)
		}
		records[k] = list
		for _, cd := range list {
			byUser[cd.UserID] = cd
		}
	}

	for _, kind := range kinds {
		roleID := st.RoleFor(kind)
		s.restoreRoles(ctx, now, kind, roleID, records[kind], byID, report)
		s.captureRoles(ctx, now, kind, roleID, st.DurationFor(kind), members, byUser, report)
	}

	s.logger.Info().
		Int("members", len(members)).
		Int("roles_restored", report.RolesRestored).
		Int("cooldowns_captured", report.CooldownsCaptured).
		Int("conflicts", report.DriftConflicts).
		Msg("drift correction completed")
	return nil
}

func (s *Scheduler) restoreRoles(ctx context.Context, now time.Time, kind models.CooldownKind, roleID string,
	records []*models.Cooldown, byID map[string]*platform.Member, report *TickReport) {
	for _, cd := range records {
		if cd.IsExpired(now) {
			continue
		}
		m, ok := byID[cd.UserID]
		if !ok || m.HasRole(roleID) {
			continue
		}
		if err := s.platform.AddRole(ctx, s.config.GuildID, cd.UserID, roleID); err != nil {
			report.DriftFailures++
			s.recorder.RecordRoleMutation("add", "error")
			s.logger.Warn().Err(err).Str("user_id", cd.UserID).Str("kind", string(kind)).Msg("failed to restore status role")
			continue
		}
		report.RolesRestored++
		s.recorder.RecordRoleMutation("add", "ok")
		s.recorder.RecordDriftRepair(string(kind), "role_added")
		s.logger.Info().Str("user_id", cd.UserID).Str("kind", string(kind)).Msg("restored missing status role")
	}
}

func (s *Scheduler) captureRoles(ctx context.Context, now time.Time, kind models.CooldownKind, roleID string,
	duration time.Duration, members []*platform.Member, byUser map[string]*models.Cooldown, report *TickReport) {
	for _, m := range members {
		if !m.HasRole(roleID) {
			continue
		}
		if existing, ok := byUser[m.UserID]; ok {
			if existing.Kind != kind {
				report.DriftConflicts++
				s.logger.Warn().
					Str("user_id", m.UserID).
					Str("kind", string(kind)).
					Str("existing_kind", string(existing.Kind)).
					Msg("status role held under a different cooldown, leaving record unchanged")
			}
			continue
		}

		cd := models.NewCooldown(m.UserID, kind, now.Add(duration), "")
		cd.CreatedAt, cd.UpdatedAt = now, now
		if err := s.store.UpsertCooldown(ctx, cd); err != nil {
			report.DriftFailures++
			s.logger.Error().Err(err).Str("user_id", m.UserID).Str("kind", string(kind)).Msg("failed to record cooldown for status role")
			continue
		}
		byUser[m.UserID] = cd
		report.CooldownsCaptured++
		s.recorder.RecordDriftRepair(string(kind), "record_created")
		s.logger.Info().
			Str("user_id", m.UserID).
			Str("kind", string(kind)).
			Time("expires_at", cd.ExpiresAt).
			Msg("recorded cooldown for status role granted outside the bot")
	}
}
