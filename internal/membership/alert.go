package membership

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/XpNow/PHX-Bot/internal/access"
	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/XpNow/PHX-Bot/internal/platform"
)

// Alert is a faction alert raised by a member.
type Alert struct {
	Location string
	Details  string
}

// FactionAlert posts an alert to the configured alert channel.
func (s *Service) FactionAlert(ctx context.Context, actor Actor, alert Alert) (*platform.Message, error) {
	if err := access.RequirePermission(actor.Access, access.PermFactionAlert, nil); err != nil {
		return nil, err
	}
	alert.Location = strings.TrimSpace(alert.Location)
	alert.Details = strings.TrimSpace(alert.Details)
	if alert.Location == "" {
		return nil, fmt.Errorf("%w: location is required", ErrInvalidAlert)
	}

	cfg, err := s.loadSettings(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.AlertChannelID == "" {
		return nil, ErrAlertChannelUnset
	}

	msg, err := s.platform.SendEmbed(ctx, cfg.AlertChannelID, AlertEmbed(actor, alert, s.now()))
	if err != nil {
		return nil, fmt.Errorf("post alert: %w", err)
	}

	s.audit(ctx, models.NewAuditLog(models.AuditActionFactionAlert, actor.UserID).
		WithOrganization(actor.Access.OrganizationID()).
		WithDetails(map[string]any{"location": alert.Location, "message_id": msg.ID}))

	s.logger.Info().
		Str("actor_id", actor.UserID).
		Str("organization_id", actor.Access.OrganizationID()).
		Str("message_id", msg.ID).
		Msg("faction alert raised")
	return msg, nil
}

// AlertEmbed renders the message posted for a faction alert.
func AlertEmbed(actor Actor, alert Alert, now time.Time) platform.Embed {
	org := "Staff"
	if o := actor.Access.Organization; o != nil {
		org = o.Name
	}
	fields := []platform.EmbedField{
		{Name: "Organization", Value: org, Inline: true},
		{Name: "Raised by", Value: "<@" + actor.UserID + ">", Inline: true},
		{Name: "Location", Value: alert.Location},
	}
	if alert.Details != "" {
		fields = append(fields, platform.EmbedField{Name: "Details", Value: alert.Details})
	}
	return platform.Embed{
		Title:     "Faction alert",
		Color:     platform.ColorDanger,
		Timestamp: now.UTC().Format(time.RFC3339),
		Fields:    fields,
	}
}
