package access

import (
	"context"
	"fmt"

	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/XpNow/PHX-Bot/internal/settings"
	"github.com/rs/zerolog"
)

// Store defines the data the Resolver reads for every call.
type Store interface {
	GetAllSettings(ctx context.Context) (map[string]string, error)
	ListOrganizations(ctx context.Context) ([]*models.Organization, error)
	GetRankBindings(ctx context.Context, orgID string) ([]*models.RankBinding, error)
}

// Caller identifies who is asking.
type Caller struct {
	UserID       string
	RoleIDs      []string
	GuildOwnerID string
}

// Resolver loads the current mappings and resolves a caller's context.
type Resolver struct {
	store  Store
	logger zerolog.Logger
}

// NewResolver creates a new Resolver.
func NewResolver(store Store, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.With().Str("component", "access_resolver").Logger(),
	}
}

// Resolve reads settings and organizations and resolves the caller. Rank
// bindings are read only for the matched organization.
func (r *Resolver) Resolve(ctx context.Context, caller Caller) (Context, error) {
	st, err := settings.Load(ctx, r.store)
	if settings.IsFatal(err) {
		return Context{}, err
	}
	if err != nil {
		r.logger.Warn().Err(err).Msg("ignoring invalid settings")
	}

	orgs, err := r.store.ListOrganizations(ctx)
	if err != nil {
		return Context{}, fmt.Errorf("list organizations: %w", err)
	}

	in := Input{
		RoleIDs:       caller.RoleIDs,
		CallerID:      caller.UserID,
		GuildOwnerID:  caller.GuildOwnerID,
		Settings:      st,
		Organizations: orgs,
	}

	if org := MatchOrganization(caller.RoleIDs, orgs); org != nil {
		bindings, err := r.store.GetRankBindings(ctx, org.ID)
		if err != nil {
			return Context{}, fmt.Errorf("get rank bindings for %s: %w", org.ID, err)
		}
		in.RankBindings = map[string][]*models.RankBinding{org.ID: bindings}
	}

	actx := Resolve(in)
	if len(actx.ConflictingOrganizationIDs) > 0 {
		r.logger.Warn().
			Str("user_id", caller.UserID).
			Str("organization_id", actx.OrganizationID()).
			Strs("also_matched", actx.ConflictingOrganizationIDs).
			Msg("caller holds base roles of several organizations")
	}
	return actx, nil
}
