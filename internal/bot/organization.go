package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/XpNow/PHX-Bot/internal/access"
	"github.com/XpNow/PHX-Bot/internal/membership"
	"github.com/XpNow/PHX-Bot/internal/platform"
)

// maxListLines caps the lines rendered into a single list embed.
const maxListLines = 40

func listEmbed(title string, lines []string, empty string) platform.Embed {
	desc := empty
	if len(lines) > 0 {
		if len(lines) > maxListLines {
			more := len(lines) - maxListLines
			lines = append(lines[:maxListLines:maxListLines], fmt.Sprintf("and %d more", more))
		}
		desc = strings.Join(lines, "\n")
	}
	return platform.Embed{
		Title:       title,
		Description: desc,
		Color:       platform.ColorInfo,
	}
}

func (d *Dispatcher) orgRoster(ctx context.Context, cmd Command, actor membership.Actor) (Reply, error) {
	org, members, err := d.members.Roster(ctx, actor, cmd.String(OptOrganization))
	if err != nil {
		return Reply{}, err
	}
	lines := make([]string, 0, len(members))
	for _, m := range members {
		lines = append(lines, fmt.Sprintf("%s %s", mention(m.UserID), m.RankKey))
	}
	embed := listEmbed(fmt.Sprintf("%s roster (%d)", org.Name, len(members)), lines, "No members.")
	return Reply{Embeds: []platform.Embed{embed}, Ephemeral: true}, nil
}

func (d *Dispatcher) orgCooldowns(ctx context.Context, cmd Command, actor membership.Actor) (Reply, error) {
	org, cooldowns, err := d.members.OrganizationCooldowns(ctx, actor, cmd.String(OptOrganization))
	if err != nil {
		return Reply{}, err
	}
	now := d.now()
	lines := make([]string, 0, len(cooldowns))
	for _, c := range cooldowns {
		if c.IsExpired(now) {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s, expires %s", mention(c.UserID), c.Kind, discordTimestamp(c.ExpiresAt)))
	}
	embed := listEmbed(org.Name+" cooldowns", lines, "No active cooldowns.")
	return Reply{Embeds: []platform.Embed{embed}, Ephemeral: true}, nil
}

func (d *Dispatcher) orgRank(ctx context.Context, cmd Command, actor membership.Actor) (Reply, error) {
	if !access.CanUseMenu(actor.Access) {
		return Reply{}, access.ErrPermissionDenied
	}
	userID := cmd.String(OptUser)
	m, err := d.members.SetRank(ctx, actor, userID, strings.ToUpper(cmd.String(OptRank)))
	if err != nil {
		return Reply{}, err
	}
	return textReply("%s is now %s in %s.", mention(userID), m.RankKey, m.OrganizationID), nil
}

func (d *Dispatcher) orgDelete(ctx context.Context, cmd Command, actor membership.Actor) (Reply, error) {
	org, err := d.members.DeleteOrganization(ctx, actor, cmd.String(OptOrganization))
	if err != nil {
		return Reply{}, err
	}
	return textReply("%s has been deactivated.", org.Name), nil
}

func (d *Dispatcher) warnings(ctx context.Context, cmd Command, actor membership.Actor) (Reply, error) {
	org, warnings, err := d.members.ActiveWarnings(ctx, actor, cmd.String(OptOrganization))
	if err != nil {
		return Reply{}, err
	}
	lines := make([]string, 0, len(warnings))
	for _, w := range warnings {
		reason := "?"
		if p, err := w.DecodePayload(); err != nil {
			d.logger.Warn().Err(err).Str("warn_id", w.ID).Msg("undecodable warning payload")
		} else {
			reason = p.Reason
		}
		line := fmt.Sprintf("`%s` %s", w.ID, reason)
		if w.ExpiresAt != nil {
			line += ", expires " + discordTimestamp(*w.ExpiresAt)
		}
		lines = append(lines, line)
	}
	embed := listEmbed(fmt.Sprintf("%s warnings (%d)", org.Name, len(warnings)), lines, "No active warnings.")
	embed.Color = platform.ColorWarn
	return Reply{Embeds: []platform.Embed{embed}, Ephemeral: true}, nil
}

func (d *Dispatcher) alert(ctx context.Context, cmd Command, actor membership.Actor) (Reply, error) {
	_, err := d.members.FactionAlert(ctx, actor, membership.Alert{
		Location: cmd.String(OptLocation),
		Details:  cmd.String(OptDetails),
	})
	if err != nil {
		return Reply{}, err
	}
	return textReply("Alert sent."), nil
}
