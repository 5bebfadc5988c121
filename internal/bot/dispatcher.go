// Package bot adapts slash command interactions to the access resolver and
// the membership service.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/XpNow/PHX-Bot/internal/access"
	"github.com/XpNow/PHX-Bot/internal/membership"
	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/XpNow/PHX-Bot/internal/platform"
	"github.com/XpNow/PHX-Bot/internal/ratelimit"
	"github.com/rs/zerolog"
)

// User-facing messages.
const (
	msgAccessDenied = "Access denied."
	msgRateLimited  = "You are doing that too often. Try again in %s."
	msgInternal     = "Something went wrong. Please try again later."
	msgUnknown      = "Unknown command."
)

// Command is a slash command flattened to its name, optional subcommand and
// option values.
type Command struct {
	Name          string
	Subcommand    string
	CallerID      string
	CallerRoleIDs []string
	GuildOwnerID  string
	Options       map[string]any
}

// String returns a string option or "".
func (c Command) String(name string) string {
	v, _ := c.Options[name].(string)
	return strings.TrimSpace(v)
}

// Int returns an integer option and whether it was set.
func (c Command) Int(name string) (int64, bool) {
	switch v := c.Options[name].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Bool returns a boolean option or false.
func (c Command) Bool(name string) bool {
	v, _ := c.Options[name].(bool)
	return v
}

// Reply is the response sent back for a command.
type Reply struct {
	Content   string
	Embeds    []platform.Embed
	Ephemeral bool
}

func textReply(format string, args ...any) Reply {
	return Reply{Content: fmt.Sprintf(format, args...), Ephemeral: true}
}

// Resolver resolves a caller's authorization context.
type Resolver interface {
	Resolve(ctx context.Context, caller access.Caller) (access.Context, error)
}

// Members performs the privileged mutations.
type Members interface {
	AddMember(ctx context.Context, actor membership.Actor, userID, orgID string) (*models.Membership, error)
	RemoveMember(ctx context.Context, actor membership.Actor, userID string, withPK bool) (*models.Cooldown, error)
	ApplyCooldown(ctx context.Context, actor membership.Actor, userID string, kind models.CooldownKind, duration time.Duration) (*models.Cooldown, error)
	ClearCooldown(ctx context.Context, actor membership.Actor, userID string) error
	IssueWarning(ctx context.Context, actor membership.Actor, orgID string, payload models.WarningPayload, ttl time.Duration) (*models.Warning, error)
	Roster(ctx context.Context, actor membership.Actor, orgID string) (*models.Organization, []*models.Membership, error)
	OrganizationCooldowns(ctx context.Context, actor membership.Actor, orgID string) (*models.Organization, []*models.Cooldown, error)
	SetRank(ctx context.Context, actor membership.Actor, userID, rankKey string) (*models.Membership, error)
	DeleteOrganization(ctx context.Context, actor membership.Actor, orgID string) (*models.Organization, error)
	ActiveWarnings(ctx context.Context, actor membership.Actor, orgID string) (*models.Organization, []*models.Warning, error)
	FactionAlert(ctx context.Context, actor membership.Actor, alert membership.Alert) (*platform.Message, error)
}

// Limiter throttles privileged actions per scope role and user.
type Limiter interface {
	Allow(ctx context.Context, scopeRole, action, userID string) (ratelimit.Result, error)
}

// StatusStore reads the records shown by the status command.
type StatusStore interface {
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
	GetMembership(ctx context.Context, userID string) (*models.Membership, error)
	GetCooldown(ctx context.Context, userID string) (*models.Cooldown, error)
	GetLastOrganization(ctx context.Context, userID string) (*models.LastOrganization, error)
}

// Dispatcher routes commands to their handlers. Every command resolves the
// caller's access context fresh.
type Dispatcher struct {
	resolver Resolver
	members  Members
	limiter  Limiter
	store    StatusStore
	now      func() time.Time
	logger   zerolog.Logger
}

// NewDispatcher creates a Dispatcher. limiter may be nil.
func NewDispatcher(resolver Resolver, members Members, limiter Limiter, store StatusStore, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		members:  members,
		limiter:  limiter,
		store:    store,
		now:      time.Now,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

type handlerFunc func(ctx context.Context, cmd Command, actor membership.Actor) (Reply, error)

// Handle executes cmd and always returns a reply suitable for the caller.
func (d *Dispatcher) Handle(ctx context.Context, cmd Command) Reply {
	logger := d.logger.With().
		Str("command", cmd.Name).
		Str("subcommand", cmd.Subcommand).
		Str("caller_id", cmd.CallerID).
		Logger()

	handler, action := d.route(cmd)
	if handler == nil {
		return textReply(msgUnknown)
	}

	ac, err := d.resolver.Resolve(ctx, access.Caller{
		UserID:       cmd.CallerID,
		RoleIDs:      cmd.CallerRoleIDs,
		GuildOwnerID: cmd.GuildOwnerID,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to resolve access context")
		return textReply(msgInternal)
	}
	if len(ac.ConflictingOrganizationIDs) > 0 {
		logger.Warn().
			Str("organization_id", ac.OrganizationID()).
			Strs("conflicts", ac.ConflictingOrganizationIDs).
			Msg("caller holds base roles of multiple organizations")
	}
	actor := membership.Actor{UserID: cmd.CallerID, Access: ac}

	if action != "" {
		if reply, limited := d.throttle(ctx, logger, actor, action); limited {
			return reply
		}
	}

	reply, err := handler(ctx, cmd, actor)
	if err != nil {
		return d.errorReply(logger, err)
	}
	return reply
}

// route returns the handler for cmd and the rate limited action name, if any.
func (d *Dispatcher) route(cmd Command) (handlerFunc, string) {
	switch cmd.Name {
	case CommandStatus:
		return d.status, ""
	case CommandOrg:
		switch cmd.Subcommand {
		case SubAdd:
			return d.orgAdd, string(models.AuditActionMemberAdd)
		case SubRemove:
			return d.orgRemove, string(models.AuditActionMemberRemove)
		case SubRoster:
			return d.orgRoster, ""
		case SubCooldowns:
			return d.orgCooldowns, ""
		case SubRank:
			return d.orgRank, string(models.AuditActionRankChange)
		case SubDelete:
			return d.orgDelete, string(models.AuditActionOrgDelete)
		}
	case CommandCooldown:
		switch cmd.Subcommand {
		case SubSet:
			return d.cooldownSet, string(models.AuditActionCooldownSet)
		case SubClear:
			return d.cooldownClear, string(models.AuditActionCooldownClear)
		}
	case CommandWarn:
		return d.warn, string(models.AuditActionWarningIssue)
	case CommandWarnings:
		return d.warnings, ""
	case CommandAlert:
		return d.alert, string(models.AuditActionFactionAlert)
	}
	return nil, ""
}

func (d *Dispatcher) throttle(ctx context.Context, logger zerolog.Logger, actor membership.Actor, action string) (Reply, bool) {
	if d.limiter == nil {
		return Reply{}, false
	}
	res, err := d.limiter.Allow(ctx, string(actor.Access.ScopeRole), action, actor.UserID)
	if err != nil {
		logger.Warn().Err(err).Str("action", action).Msg("rate limit check failed, allowing")
		return Reply{}, false
	}
	if res.Allowed {
		return Reply{}, false
	}
	wait := res.ResetAt.Sub(d.now()).Round(time.Second)
	if wait < time.Second {
		wait = time.Second
	}
	logger.Info().Str("action", action).Dur("retry_after", wait).Msg("rate limited")
	return textReply(msgRateLimited, wait), true
}

func (d *Dispatcher) errorReply(logger zerolog.Logger, err error) Reply {
	switch {
	case errors.Is(err, access.ErrPermissionDenied):
		logger.Info().Err(err).Msg("permission denied")
		return textReply(msgAccessDenied)
	case errors.Is(err, membership.ErrOrganizationNotFound):
		return textReply("That organization does not exist or is inactive.")
	case errors.Is(err, membership.ErrAlreadyMember):
		return textReply("That user already belongs to an organization.")
	case errors.Is(err, membership.ErrNotMember):
		return textReply("That user does not belong to an organization.")
	case errors.Is(err, membership.ErrInCooldown):
		return textReply("That user is in cooldown and cannot join an organization.")
	case errors.Is(err, membership.ErrNoCooldown):
		return textReply("That user has no cooldown.")
	case errors.Is(err, membership.ErrInvalidUser):
		return textReply("Invalid user.")
	case errors.Is(err, membership.ErrInvalidCooldown):
		return textReply("Invalid cooldown.")
	case errors.Is(err, membership.ErrInvalidWarning):
		return textReply("Invalid warning.")
	case errors.Is(err, membership.ErrUnknownRank):
		return textReply("That organization has no such rank.")
	case errors.Is(err, membership.ErrInvalidAlert):
		return textReply("An alert needs a location.")
	case errors.Is(err, membership.ErrAlertChannelUnset):
		return textReply("No alert channel is configured.")
	}
	logger.Error().Err(err).Msg("command failed")
	return textReply(msgInternal)
}

func (d *Dispatcher) status(ctx context.Context, cmd Command, actor membership.Actor) (Reply, error) {
	userID := cmd.String(OptUser)
	if userID == "" {
		userID = actor.UserID
	}
	if userID != actor.UserID && !access.CanUseMenu(actor.Access) {
		return Reply{}, access.ErrPermissionDenied
	}

	embed := platform.Embed{
		Title:     "Status",
		Color:     platform.ColorInfo,
		Timestamp: d.now().UTC().Format(time.RFC3339),
		Fields:    []platform.EmbedField{{Name: "User", Value: mention(userID), Inline: true}},
	}

	m, err := d.store.GetMembership(ctx, userID)
	if err != nil {
		return Reply{}, fmt.Errorf("get membership: %w", err)
	}
	if m == nil {
		embed.Fields = append(embed.Fields, platform.EmbedField{Name: "Organization", Value: "None", Inline: true})
		last, err := d.store.GetLastOrganization(ctx, userID)
		if err != nil {
			return Reply{}, fmt.Errorf("get last organization: %w", err)
		}
		if last != nil {
			name, err := d.organizationName(ctx, last.OrganizationID)
			if err != nil {
				return Reply{}, err
			}
			embed.Fields = append(embed.Fields, platform.EmbedField{
				Name:  "Last organization",
				Value: fmt.Sprintf("%s, left %s", name, discordTimestamp(last.LeftAt)),
			})
		}
	} else {
		name, err := d.organizationName(ctx, m.OrganizationID)
		if err != nil {
			return Reply{}, err
		}
		embed.Fields = append(embed.Fields,
			platform.EmbedField{Name: "Organization", Value: name, Inline: true},
			platform.EmbedField{Name: "Rank", Value: m.RankKey, Inline: true},
		)
	}

	c, err := d.store.GetCooldown(ctx, userID)
	if err != nil {
		return Reply{}, fmt.Errorf("get cooldown: %w", err)
	}
	if c == nil || c.IsExpired(d.now()) {
		embed.Fields = append(embed.Fields, platform.EmbedField{Name: "Cooldown", Value: "None"})
	} else {
		embed.Fields = append(embed.Fields, platform.EmbedField{
			Name:  "Cooldown",
			Value: fmt.Sprintf("%s, expires %s", c.Kind, discordTimestamp(c.ExpiresAt)),
		})
	}
	return Reply{Embeds: []platform.Embed{embed}, Ephemeral: true}, nil
}

func (d *Dispatcher) orgAdd(ctx context.Context, cmd Command, actor membership.Actor) (Reply, error) {
	if !access.CanUseMenu(actor.Access) {
		return Reply{}, access.ErrPermissionDenied
	}
	userID := cmd.String(OptUser)
	m, err := d.members.AddMember(ctx, actor, userID, cmd.String(OptOrganization))
	if err != nil {
		return Reply{}, err
	}
	return textReply("Added %s to %s.", mention(userID), m.OrganizationID), nil
}

func (d *Dispatcher) orgRemove(ctx context.Context, cmd Command, actor membership.Actor) (Reply, error) {
	if !access.CanUseMenu(actor.Access) {
		return Reply{}, access.ErrPermissionDenied
	}
	userID := cmd.String(OptUser)
	c, err := d.members.RemoveMember(ctx, actor, userID, cmd.Bool(OptPK))
	if err != nil {
		return Reply{}, err
	}
	if c != nil {
		return textReply("Removed %s. %s cooldown until %s.", mention(userID), c.Kind, discordTimestamp(c.ExpiresAt)), nil
	}
	return textReply("Removed %s.", mention(userID)), nil
}

func (d *Dispatcher) cooldownSet(ctx context.Context, cmd Command, actor membership.Actor) (Reply, error) {
	if !access.CanManageCooldowns(actor.Access) {
		return Reply{}, access.ErrPermissionDenied
	}
	kind := strings.ToUpper(cmd.String(OptKind))
	if !models.IsValidCooldownKind(kind) {
		return Reply{}, membership.ErrInvalidCooldown
	}
	var duration time.Duration
	if days, ok := cmd.Int(OptDays); ok {
		if days <= 0 {
			return Reply{}, membership.ErrInvalidCooldown
		}
		duration = time.Duration(days) * 24 * time.Hour
	}
	userID := cmd.String(OptUser)
	c, err := d.members.ApplyCooldown(ctx, actor, userID, models.CooldownKind(kind), duration)
	if err != nil {
		return Reply{}, err
	}
	return textReply("%s cooldown set for %s until %s.", c.Kind, mention(userID), discordTimestamp(c.ExpiresAt)), nil
}

func (d *Dispatcher) cooldownClear(ctx context.Context, cmd Command, actor membership.Actor) (Reply, error) {
	if !access.CanManageCooldowns(actor.Access) {
		return Reply{}, access.ErrPermissionDenied
	}
	userID := cmd.String(OptUser)
	if err := d.members.ClearCooldown(ctx, actor, userID); err != nil {
		return Reply{}, err
	}
	return textReply("Cooldown cleared for %s.", mention(userID)), nil
}

func (d *Dispatcher) warn(ctx context.Context, cmd Command, actor membership.Actor) (Reply, error) {
	if !access.CanIssueWarnings(actor.Access) {
		return Reply{}, access.ErrPermissionDenied
	}
	var ttl time.Duration
	if days, ok := cmd.Int(OptDays); ok {
		if days <= 0 {
			return Reply{}, membership.ErrInvalidWarning
		}
		ttl = time.Duration(days) * 24 * time.Hour
	}
	payload := models.WarningPayload{
		Reason:     cmd.String(OptReason),
		Sanction:   cmd.String(OptSanction),
		TargetName: cmd.String(OptTarget),
	}
	w, err := d.members.IssueWarning(ctx, actor, cmd.String(OptOrganization), payload, ttl)
	if err != nil {
		return Reply{}, err
	}
	if w.ExpiresAt != nil {
		return textReply("Warning %s issued to %s, expires %s.", w.ID, w.OrganizationID, discordTimestamp(*w.ExpiresAt)), nil
	}
	return textReply("Warning %s issued to %s.", w.ID, w.OrganizationID), nil
}

// organizationName returns the display name of orgID, or the id itself when
// the organization is gone.
func (d *Dispatcher) organizationName(ctx context.Context, orgID string) (string, error) {
	org, err := d.store.GetOrganization(ctx, orgID)
	if err != nil {
		return "", fmt.Errorf("get organization: %w", err)
	}
	if org == nil {
		return orgID, nil
	}
	return org.Name, nil
}

func mention(userID string) string {
	return "<@" + userID + ">"
}

func discordTimestamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}
