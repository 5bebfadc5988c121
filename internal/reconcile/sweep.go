package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/XpNow/PHX-Bot/internal/platform"
	"github.com/XpNow/PHX-Bot/internal/settings"
)

// expiredMarker is appended to the footer of an expired warning's message.
const expiredMarker = "STATUS: EXPIRED"

// expireCooldowns removes status roles and records for every due cooldown.
// A record whose role could not be removed is kept for the next tick.
func (s *Scheduler) expireCooldowns(ctx context.Context, now time.Time, st settings.Settings, report *TickReport) {
	due, err := s.store.ListExpiringCooldowns(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list expiring cooldowns")
		return
	}

	for _, cd := range due {
		if err := s.expireCooldown(ctx, now, st, cd); err != nil {
			report.CooldownsRetained++
			s.logger.Warn().
				Err(err).
				Str("user_id", cd.UserID).
				Str("kind", string(cd.Kind)).
				Msg("cooldown kept for retry")
			continue
		}
		report.CooldownsExpired++
		s.recorder.RecordCooldownExpired(string(cd.Kind))
	}
}

func (s *Scheduler) expireCooldown(ctx context.Context, now time.Time, st settings.Settings, cd *models.Cooldown) error {
	if roleID := st.RoleFor(cd.Kind); roleID != "" {
		member, err := s.platform.Member(ctx, s.config.GuildID, cd.UserID)
		switch {
		case errors.Is(err, platform.ErrNotFound):
			member = nil
		case err != nil:
			return fmt.Errorf("fetch member: %w", err)
		}

		if member != nil && member.HasRole(roleID) {
			err := s.platform.RemoveRole(ctx, s.config.GuildID, cd.UserID, roleID)
			switch {
			case err == nil:
				s.recorder.RecordRoleMutation("remove", "ok")
			case errors.Is(err, platform.ErrNotFound):
				s.recorder.RecordRoleMutation("remove", "gone")
			default:
				s.recorder.RecordRoleMutation("remove", "error")
				return fmt.Errorf("remove status role: %w", err)
			}
		}
	}

	cleared, err := s.store.ClearExpiredCooldown(ctx, cd.UserID, now)
	if err != nil {
		return fmt.Errorf("clear cooldown: %w", err)
	}
	if !cleared {
		s.logger.Debug().Str("user_id", cd.UserID).Msg("cooldown replaced before it could be cleared")
	}

	s.logger.Info().
		Str("user_id", cd.UserID).
		Str("kind", string(cd.Kind)).
		Time("expired_at", cd.ExpiresAt).
		Msg("cooldown expired")
	return nil
}

// expireWarnings marks every due warning EXPIRED. Restyling the posted message
// is best-effort and never blocks the status change.
func (s *Scheduler) expireWarnings(ctx context.Context, now time.Time, st settings.Settings, report *TickReport) {
	due, err := s.store.ListExpiringWarnings(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list expiring warnings")
		return
	}
	if len(due) == 0 {
		return
	}

	channelID := s.warnChannel(ctx, st)

	for _, w := range due {
		if !w.IsDue(now) {
			continue
		}
		if channelID != "" && w.MessageID != "" {
			if err := s.markMessageExpired(ctx, channelID, w.MessageID, now); err != nil {
				report.MessageEditsFailed++
				s.logger.Debug().Err(err).Str("warn_id", w.ID).Msg("could not update warning message")
			}
		}

		if err := s.store.SetWarningStatus(ctx, w.ID, models.WarningStatusExpired); err != nil {
			report.WarningsFailed++
			s.logger.Error().Err(err).Str("warn_id", w.ID).Msg("failed to expire warning")
			continue
		}
		report.WarningsExpired++
		s.recorder.RecordWarningExpired()
		s.logger.Info().Str("warn_id", w.ID).Str("organization_id", w.OrganizationID).Msg("warning expired")
	}
}

// warnChannel returns the configured warnings channel if it exists and holds
// text messages, or "".
func (s *Scheduler) warnChannel(ctx context.Context, st settings.Settings) string {
	if st.WarnChannelID == "" {
		return ""
	}
	ch, err := s.platform.Channel(ctx, st.WarnChannelID)
	if err != nil {
		s.logger.Debug().Err(err).Str("channel_id", st.WarnChannelID).Msg("warnings channel unavailable")
		return ""
	}
	if !ch.IsText {
		return ""
	}
	return ch.ID
}

func (s *Scheduler) markMessageExpired(ctx context.Context, channelID, messageID string, now time.Time) error {
	msg, err := s.platform.Message(ctx, channelID, messageID)
	if err != nil {
		return err
	}
	if len(msg.Embeds) == 0 {
		return nil
	}
	embeds := append([]platform.Embed(nil), msg.Embeds...)
	embeds[0] = ExpiredEmbed(embeds[0], now)
	return s.platform.EditEmbeds(ctx, channelID, messageID, embeds)
}

// ExpiredEmbed restyles a warning embed to show it has expired. Applying it
// twice leaves the footer unchanged.
func ExpiredEmbed(e platform.Embed, now time.Time) platform.Embed {
	e.Color = platform.ColorWarn
	if strings.Contains(e.Footer, expiredMarker) {
		return e
	}
	status := fmt.Sprintf("%s at %s", expiredMarker, now.UTC().Format(time.RFC3339))
	if e.Footer == "" {
		e.Footer = status
	} else {
		e.Footer = e.Footer + " • " + status
	}
	return e
}
