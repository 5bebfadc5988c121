package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/XpNow/PHX-Bot/internal/settings"
	"gopkg.in/yaml.v3"
)

// Seed is the declarative bootstrap data for a guild: settings,
// organizations with their ranks, and rate limit rules.
type Seed struct {
	Settings      map[string]string       `yaml:"settings,omitempty"`
	Organizations []SeedOrganization      `yaml:"organizations,omitempty"`
	RateLimits    []*models.RateLimitRule `yaml:"rate_limits,omitempty"`
}

// SeedOrganization describes an organization and its ranks.
type SeedOrganization struct {
	ID         string     `yaml:"id"`
	Name       string     `yaml:"name"`
	Kind       string     `yaml:"kind"`
	BaseRoleID string     `yaml:"base_role_id,omitempty"`
	Ranks      []SeedRank `yaml:"ranks,omitempty"`
}

// SeedRank binds a rank key to a role.
type SeedRank struct {
	Key    string `yaml:"key"`
	RoleID string `yaml:"role_id,omitempty"`
	Level  int    `yaml:"level"`
}

// SeedStore is the persistence a Seed is applied to.
type SeedStore interface {
	SetSetting(ctx context.Context, key, value string) error
	UpsertOrganization(ctx context.Context, org *models.Organization) error
	UpsertRankBinding(ctx context.Context, b *models.RankBinding) error
	UpsertRateLimit(ctx context.Context, r *models.RateLimitRule) error
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate reports every problem in the seed.
func (s *Seed) Validate() error {
	var errs []error

	for key, value := range s.Settings {
		if err := settings.ValidateValue(settings.Key(key), value); err != nil {
			errs = append(errs, err)
		}
	}

	seenOrgs := make(map[string]bool)
	for _, org := range s.Organizations {
		if !models.IsValidOrganizationID(org.ID) {
			errs = append(errs, fmt.Errorf("organization %q: invalid id", org.ID))
		}
		if seenOrgs[org.ID] {
			errs = append(errs, fmt.Errorf("organization %q: duplicate id", org.ID))
		}
		seenOrgs[org.ID] = true
		if org.Name == "" {
			errs = append(errs, fmt.Errorf("organization %q: name is required", org.ID))
		}
		if !models.IsValidOrganizationKind(org.Kind) {
			errs = append(errs, fmt.Errorf("organization %q: unknown kind %q", org.ID, org.Kind))
		}
		if org.BaseRoleID != "" && !settings.IsSnowflake(org.BaseRoleID) {
			errs = append(errs, fmt.Errorf("organization %q: invalid base_role_id", org.ID))
		}

		seenRanks := make(map[string]bool)
		for _, r := range org.Ranks {
			if !models.IsValidRankKey(r.Key) {
				errs = append(errs, fmt.Errorf("organization %q: invalid rank key %q", org.ID, r.Key))
			}
			if seenRanks[r.Key] {
				errs = append(errs, fmt.Errorf("organization %q: duplicate rank %q", org.ID, r.Key))
			}
			seenRanks[r.Key] = true
			if r.RoleID != "" && !settings.IsSnowflake(r.RoleID) {
				errs = append(errs, fmt.Errorf("organization %q: rank %q: invalid role_id", org.ID, r.Key))
			}
			if !models.IsValidRankLevel(r.Level) {
				errs = append(errs, fmt.Errorf("organization %q: rank %q: level %d out of range", org.ID, r.Key, r.Level))
			}
		}
	}

	for _, r := range s.RateLimits {
		if r == nil || !r.IsValid() {
			errs = append(errs, fmt.Errorf("invalid rate limit rule %+v", r))
		}
	}

	return errors.Join(errs...)
}

// ApplyResult counts what Apply wrote.
type ApplyResult struct {
	Settings      int
	Organizations int
	Ranks         int
	RateLimits    int
}

// Apply upserts the seed into store. Existing records not named in the seed
// are left untouched.
func (s *Seed) Apply(ctx context.Context, store SeedStore) (ApplyResult, error) {
	var res ApplyResult

	keys := make([]string, 0, len(s.Settings))
	for k := range s.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := store.SetSetting(ctx, k, s.Settings[k]); err != nil {
			return res, fmt.Errorf("apply setting %s: %w", k, err)
		}
		res.Settings++
	}

	for _, o := range s.Organizations {
		org := models.NewOrganization(o.ID, o.Name, models.OrganizationKind(o.Kind), o.BaseRoleID)
		if err := store.UpsertOrganization(ctx, org); err != nil {
			return res, fmt.Errorf("apply organization %s: %w", o.ID, err)
		}
		res.Organizations++

		for _, r := range o.Ranks {
			if err := store.UpsertRankBinding(ctx, models.NewRankBinding(o.ID, r.Key, r.RoleID, r.Level)); err != nil {
				return res, fmt.Errorf("apply rank %s/%s: %w", o.ID, r.Key, err)
			}
			res.Ranks++
		}
	}

	for _, r := range s.RateLimits {
		if err := store.UpsertRateLimit(ctx, r); err != nil {
			return res, fmt.Errorf("apply rate limit %s/%s: %w", r.ScopeRole, r.Action, err)
		}
		res.RateLimits++
	}

	return res, nil
}
