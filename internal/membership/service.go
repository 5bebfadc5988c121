// Package membership implements the privileged mutations the bot performs on
// behalf of callers: adding and removing organization members, managing
// cooldowns and issuing warnings.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/XpNow/PHX-Bot/internal/access"
	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/XpNow/PHX-Bot/internal/platform"
	"github.com/XpNow/PHX-Bot/internal/settings"
	"github.com/rs/zerolog"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrAlreadyMember        = errors.New("user already belongs to an organization")
	ErrNotMember            = errors.New("user does not belong to an organization")
	ErrInCooldown           = errors.New("user is in cooldown")
	ErrNoCooldown           = errors.New("user has no cooldown")
	ErrInvalidUser          = errors.New("invalid user id")
	ErrInvalidCooldown      = errors.New("invalid cooldown")
	ErrInvalidWarning       = errors.New("invalid warning")
	ErrUnknownRank          = errors.New("unknown rank")
	ErrInvalidAlert         = errors.New("invalid alert")
	ErrAlertChannelUnset    = errors.New("alert channel is not configured")
)

// Store defines the persistence operations the service needs.
type Store interface {
	GetAllSettings(ctx context.Context) (map[string]string, error)
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
	DeactivateOrganization(ctx context.Context, id string) error
	GetRankBindings(ctx context.Context, orgID string) ([]*models.RankBinding, error)

	GetMembership(ctx context.Context, userID string) (*models.Membership, error)
	ListMembershipsByOrganization(ctx context.Context, orgID string) ([]*models.Membership, error)
	SetMembership(ctx context.Context, m *models.Membership) error
	ClearMembership(ctx context.Context, userID string) error
	SetLastOrganization(ctx context.Context, userID, orgID string, leftAt time.Time) error

	GetCooldown(ctx context.Context, userID string) (*models.Cooldown, error)
	UpsertCooldown(ctx context.Context, c *models.Cooldown) error
	ClearCooldown(ctx context.Context, userID string, kind models.CooldownKind) (bool, error)
	ListCooldownsByOrganization(ctx context.Context, orgID string) ([]*models.Cooldown, error)

	CreateWarning(ctx context.Context, w *models.Warning) error
	GetWarning(ctx context.Context, warnID string) (*models.Warning, error)
	ListActiveWarnings(ctx context.Context, orgID string) ([]*models.Warning, error)
	SetWarningMessage(ctx context.Context, warnID, messageID string) error

	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Platform is the subset of the chat platform the service mutates.
type Platform interface {
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	SendEmbed(ctx context.Context, channelID string, embed platform.Embed) (*platform.Message, error)
}

// Actor is the caller performing a mutation together with their resolved
// authorization context.
type Actor struct {
	UserID string
	Access access.Context
}

// Service performs membership mutations.
type Service struct {
	store    Store
	platform Platform
	guildID  string
	now      func() time.Time
	logger   zerolog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new membership service for guildID.
func NewService(store Store, p Platform, guildID string, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		platform: p,
		guildID:  guildID,
		now:      time.Now,
		logger:   logger.With().Str("component", "membership_service").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) loadSettings(ctx context.Context) (settings.Settings, error) {
	cfg, err := settings.Load(ctx, s.store)
	if settings.IsFatal(err) {
		return cfg, err
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("ignoring invalid settings")
	}
	return cfg, nil
}

func (s *Service) activeOrganization(ctx context.Context, orgID string) (*models.Organization, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	if org == nil || !org.Active {
		return nil, ErrOrganizationNotFound
	}
	return org, nil
}

func (s *Service) audit(ctx context.Context, log *models.AuditLog) {
	if err := s.store.CreateAuditLog(ctx, log); err != nil {
		s.logger.Error().Err(err).Str("action", string(log.Action)).Msg("failed to write audit log")
	}
}

// rankRole returns the role bound to rankKey in orgID, or "".
func (s *Service) rankRole(ctx context.Context, orgID, rankKey string) string {
	bindings, err := s.store.GetRankBindings(ctx, orgID)
	if err != nil {
		s.logger.Warn().Err(err).Str("organization_id", orgID).Msg("failed to load rank bindings")
		return ""
	}
	for _, b := range bindings {
		if b.RankKey == rankKey {
			return b.RoleID
		}
	}
	return ""
}

// bestEffort applies a role change and logs a failure instead of returning it.
// Missing role assignments are picked up by drift correction.
func (s *Service) bestEffort(ctx context.Context, add bool, userID, roleID string) {
	if roleID == "" {
		return
	}
	op := s.platform.RemoveRole
	if add {
		op = s.platform.AddRole
	}
	if err := op(ctx, s.guildID, userID, roleID); err != nil {
		s.logger.Warn().Err(err).
			Str("user_id", userID).
			Str("role_id", roleID).
			Bool("add", add).
			Msg("role update failed")
	}
}

// AddMember adds userID to orgID at the default rank.
func (s *Service) AddMember(ctx context.Context, actor Actor, userID, orgID string) (*models.Membership, error) {
	if !settings.IsSnowflake(userID) {
		return nil, ErrInvalidUser
	}
	org, err := s.activeOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if err := access.RequirePermission(actor.Access, access.PermMemberManage, org); err != nil {
		return nil, err
	}

	now := s.now()
	cooldown, err := s.store.GetCooldown(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cooldown: %w", err)
	}
	if cooldown != nil && !cooldown.IsExpired(now) {
		return nil, fmt.Errorf("%w: %s until %s", ErrInCooldown, cooldown.Kind, cooldown.ExpiresAt.UTC().Format(time.RFC3339))
	}

	existing, err := s.store.GetMembership(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyMember
	}

	if org.BaseRoleID != "" {
		if err := s.platform.AddRole(ctx, s.guildID, userID, org.BaseRoleID); err != nil {
			return nil, fmt.Errorf("grant base role: %w", err)
		}
	}

	m := models.NewMembership(userID, org.ID)
	m.UpdatedAt = now
	if err := s.store.SetMembership(ctx, m); err != nil {
		return nil, fmt.Errorf("set membership: %w", err)
	}

	s.audit(ctx, models.NewAuditLog(models.AuditActionMemberAdd, actor.UserID).
		WithTarget(userID).
		WithOrganization(org.ID))

	s.logger.Info().
		Str("user_id", userID).
		Str("organization_id", org.ID).
		Str("actor_id", actor.UserID).
		Msg("member added")
	return m, nil
}

// RemoveMember removes userID from their organization. With withPK the user
// is placed in a PK cooldown remembering the organization they left.
func (s *Service) RemoveMember(ctx context.Context, actor Actor, userID string, withPK bool) (*models.Cooldown, error) {
	m, err := s.store.GetMembership(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	if m == nil {
		return nil, ErrNotMember
	}

	org, err := s.store.GetOrganization(ctx, m.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	if org == nil {
		org = &models.Organization{ID: m.OrganizationID}
	}
	if err := access.RequirePermission(actor.Access, access.PermMemberManage, org); err != nil {
		return nil, err
	}

	cfg, err := s.loadSettings(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.store.ClearMembership(ctx, userID); err != nil {
		return nil, fmt.Errorf("clear membership: %w", err)
	}
	if err := s.store.SetLastOrganization(ctx, userID, org.ID, now); err != nil {
		return nil, fmt.Errorf("set last organization: %w", err)
	}

	s.bestEffort(ctx, false, userID, org.BaseRoleID)
	s.bestEffort(ctx, false, userID, s.rankRole(ctx, org.ID, m.RankKey))

	var cooldown *models.Cooldown
	if withPK {
		cooldown = models.NewCooldown(userID, models.CooldownKindPK, now.Add(cfg.PKDuration), org.ID)
		cooldown.CreatedAt = now
		cooldown.UpdatedAt = now
		if err := s.store.UpsertCooldown(ctx, cooldown); err != nil {
			return nil, fmt.Errorf("create cooldown: %w", err)
		}
		s.bestEffort(ctx, true, userID, cfg.PKRoleID)
	}

	s.audit(ctx, models.NewAuditLog(models.AuditActionMemberRemove, actor.UserID).
		WithTarget(userID).
		WithOrganization(org.ID).
		WithDetails(map[string]any{"pk": withPK, "rank": m.RankKey}))

	s.logger.Info().
		Str("user_id", userID).
		Str("organization_id", org.ID).
		Bool("pk", withPK).
		Msg("member removed")
	return cooldown, nil
}

// ApplyCooldown places userID in a cooldown of kind. A zero duration uses the
// configured length for kind. Any existing cooldown is replaced.
func (s *Service) ApplyCooldown(ctx context.Context, actor Actor, userID string, kind models.CooldownKind, duration time.Duration) (*models.Cooldown, error) {
	if err := access.RequirePermission(actor.Access, access.PermCooldownManage, nil); err != nil {
		return nil, err
	}
	if !settings.IsSnowflake(userID) {
		return nil, ErrInvalidUser
	}
	if !models.IsValidCooldownKind(string(kind)) {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidCooldown, kind)
	}
	if duration < 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidCooldown)
	}

	cfg, err := s.loadSettings(ctx)
	if err != nil {
		return nil, err
	}
	if duration == 0 {
		duration = cfg.DurationFor(kind)
	}

	previous, err := s.store.GetCooldown(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cooldown: %w", err)
	}

	lastOrg := ""
	if m, err := s.store.GetMembership(ctx, userID); err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	} else if m != nil {
		lastOrg = m.OrganizationID
	} else if previous != nil {
		lastOrg = previous.LastOrganizationID
	}

	now := s.now()
	cooldown := models.NewCooldown(userID, kind, now.Add(duration), lastOrg)
	cooldown.CreatedAt = now
	cooldown.UpdatedAt = now
	if err := s.store.UpsertCooldown(ctx, cooldown); err != nil {
		return nil, fmt.Errorf("upsert cooldown: %w", err)
	}

	if previous != nil && previous.Kind != kind {
		s.bestEffort(ctx, false, userID, cfg.RoleFor(previous.Kind))
	}
	s.bestEffort(ctx, true, userID, cfg.RoleFor(kind))

	s.audit(ctx, models.NewAuditLog(models.AuditActionCooldownSet, actor.UserID).
		WithTarget(userID).
		WithOrganization(lastOrg).
		WithDetails(map[string]any{"kind": kind, "expires_at": cooldown.ExpiresAt}))

	s.logger.Info().
		Str("user_id", userID).
		Str("kind", string(kind)).
		Time("expires_at", cooldown.ExpiresAt).
		Msg("cooldown applied")
	return cooldown, nil
}

// ClearCooldown lifts userID's cooldown ahead of its expiry.
func (s *Service) ClearCooldown(ctx context.Context, actor Actor, userID string) error {
	if err := access.RequirePermission(actor.Access, access.PermCooldownManage, nil); err != nil {
		return err
	}

	cooldown, err := s.store.GetCooldown(ctx, userID)
	if err != nil {
		return fmt.Errorf("get cooldown: %w", err)
	}
	if cooldown == nil {
		return ErrNoCooldown
	}

	cfg, err := s.loadSettings(ctx)
	if err != nil {
		return err
	}
	s.bestEffort(ctx, false, userID, cfg.RoleFor(cooldown.Kind))

	if _, err := s.store.ClearCooldown(ctx, userID, cooldown.Kind); err != nil {
		return fmt.Errorf("clear cooldown: %w", err)
	}

	s.audit(ctx, models.NewAuditLog(models.AuditActionCooldownClear, actor.UserID).
		WithTarget(userID).
		WithOrganization(cooldown.LastOrganizationID).
		WithDetails(map[string]any{"kind": cooldown.Kind}))

	s.logger.Info().Str("user_id", userID).Str("kind", string(cooldown.Kind)).Msg("cooldown cleared")
	return nil
}

// IssueWarning records a warning against orgID and posts it to the warnings
// channel when one is configured. A zero ttl never expires.
func (s *Service) IssueWarning(ctx context.Context, actor Actor, orgID string, payload models.WarningPayload, ttl time.Duration) (*models.Warning, error) {
	if err := access.RequirePermission(actor.Access, access.PermWarningManage, nil); err != nil {
		return nil, err
	}
	if payload.Reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidWarning)
	}
	if ttl < 0 {
		return nil, fmt.Errorf("%w: negative duration", ErrInvalidWarning)
	}
	org, err := s.activeOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	cfg, err := s.loadSettings(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	w, err := models.NewWarning(org.ID, actor.UserID, payload, ttl, now)
	if err != nil {
		return nil, err
	}
	if err := s.createWarning(ctx, w, now); err != nil {
		return nil, err
	}

	if cfg.WarnChannelID != "" {
		msg, err := s.platform.SendEmbed(ctx, cfg.WarnChannelID, WarningEmbed(w, org, payload))
		if err != nil {
			s.logger.Warn().Err(err).Str("warn_id", w.ID).Msg("failed to post warning")
		} else {
			w.MessageID = msg.ID
			if err := s.store.SetWarningMessage(ctx, w.ID, msg.ID); err != nil {
				s.logger.Warn().Err(err).Str("warn_id", w.ID).Msg("failed to record warning message")
			}
		}
	}

	s.audit(ctx, models.NewAuditLog(models.AuditActionWarningIssue, actor.UserID).
		WithOrganization(org.ID).
		WithDetails(map[string]any{"warn_id": w.ID, "reason": payload.Reason}))

	s.logger.Info().Str("warn_id", w.ID).Str("organization_id", org.ID).Msg("warning issued")
	return w, nil
}

// createWarning stores w. An id already taken this year is replaced once
// with a fresh one.
func (s *Service) createWarning(ctx context.Context, w *models.Warning, now time.Time) error {
	err := s.store.CreateWarning(ctx, w)
	if err == nil {
		return nil
	}
	taken, getErr := s.store.GetWarning(ctx, w.ID)
	if getErr != nil || taken == nil {
		return fmt.Errorf("create warning: %w", err)
	}

	s.logger.Warn().Str("warn_id", w.ID).Msg("warn id collision, regenerating")
	w.ID = models.NewWarnID(now)
	if err := s.store.CreateWarning(ctx, w); err != nil {
		return fmt.Errorf("create warning: %w", err)
	}
	return nil
}

// WarningEmbed renders the message posted for a new warning.
func WarningEmbed(w *models.Warning, org *models.Organization, payload models.WarningPayload) platform.Embed {
	fields := []platform.EmbedField{
		{Name: "Organization", Value: org.Name, Inline: true},
		{Name: "Issued by", Value: "<@" + w.CreatedBy + ">", Inline: true},
		{Name: "Reason", Value: payload.Reason},
	}
	if payload.TargetName != "" {
		fields = append(fields, platform.EmbedField{Name: "Target", Value: payload.TargetName, Inline: true})
	}
	if payload.Sanction != "" {
		fields = append(fields, platform.EmbedField{Name: "Sanction", Value: payload.Sanction, Inline: true})
	}
	expires := "Never"
	if w.ExpiresAt != nil {
		expires = fmt.Sprintf("<t:%d:R>", w.ExpiresAt.Unix())
	}
	fields = append(fields, platform.EmbedField{Name: "Expires", Value: expires, Inline: true})

	return platform.Embed{
		Title:     "Warning " + w.ID,
		Color:     platform.ColorDanger,
		Footer:    "Warn ID: " + w.ID,
		Timestamp: w.CreatedAt.UTC().Format(time.RFC3339),
		Fields:    fields,
	}
}
