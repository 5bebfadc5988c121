// Package settings provides typed access to the bot's key/value settings.
package settings

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/XpNow/PHX-Bot/internal/models"
)

// Key is a settings table key.
type Key string

const (
	KeyAdminRoleID        Key = "ROLE_ADMIN_ID"
	KeySupervisorRoleID   Key = "ROLE_SUPERVISOR_ID"
	KeyWarnManagerRoleID  Key = "ROLE_WARN_MANAGER_ID"
	KeyPKRoleID           Key = "ROLE_PK_ID"
	KeyBanRoleID          Key = "ROLE_BAN_ID"
	KeyWarnChannelID      Key = "WARN_CHANNEL_ID"
	KeyAlertChannelID     Key = "ALERT_CHANNEL_ID"
	KeyAuditChannelID     Key = "AUDIT_CHANNEL_ID"
	KeyErrorChannelID     Key = "ERROR_CHANNEL_ID"
	KeyPKDays             Key = "PK_DAYS"
	KeyBanDays            Key = "BAN_DAYS"
	KeyAuditRetentionDays Key = "AUDIT_RETENTION_DAYS"
)

// Defaults applied when a key is unset or invalid.
const (
	DefaultPKDays             = 3
	DefaultBanDays            = 30
	DefaultAuditRetentionDays = 180
)

var snowflakePattern = regexp.MustCompile(`^[0-9]{17,20}$`)

// IsSnowflake reports whether id has the platform's identifier format.
func IsSnowflake(id string) bool {
	return snowflakePattern.MatchString(id)
}

var (
	// ErrUnknownKey is returned when validating a key the bot does not use.
	ErrUnknownKey = errors.New("unknown setting key")
	// ErrInvalidValue marks a value that does not fit its key.
	ErrInvalidValue = errors.New("invalid setting value")
)

type keyKind int

const (
	kindSnowflake keyKind = iota
	kindDays
)

var knownKeys = map[Key]keyKind{
	KeyAdminRoleID:        kindSnowflake,
	KeySupervisorRoleID:   kindSnowflake,
	KeyWarnManagerRoleID:  kindSnowflake,
	KeyPKRoleID:           kindSnowflake,
	KeyBanRoleID:          kindSnowflake,
	KeyWarnChannelID:      kindSnowflake,
	KeyAlertChannelID:     kindSnowflake,
	KeyAuditChannelID:     kindSnowflake,
	KeyErrorChannelID:     kindSnowflake,
	KeyPKDays:             kindDays,
	KeyBanDays:            kindDays,
	KeyAuditRetentionDays: kindDays,
}

// Keys returns every known key in lexical order.
func Keys() []Key {
	keys := make([]Key, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ValidateValue checks a raw value before it is written for key. An empty
// value is accepted and means unset.
func ValidateValue(key Key, value string) error {
	kind, ok := knownKeys[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if value == "" {
		return nil
	}
	switch kind {
	case kindSnowflake:
		if !IsSnowflake(value) {
			return fmt.Errorf("%w: %s: %q is not a valid id", ErrInvalidValue, key, value)
		}
	case kindDays:
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > 3650 {
			return fmt.Errorf("%w: %s: %q must be a whole number of days between 1 and 3650", ErrInvalidValue, key, value)
		}
	}
	return nil
}

// Settings is the typed view of the settings table.
type Settings struct {
	AdminRoleID       string
	SupervisorRoleID  string
	WarnManagerRoleID string
	PKRoleID          string
	BanRoleID         string

	WarnChannelID  string
	AlertChannelID string
	AuditChannelID string
	ErrorChannelID string

	PKDuration         time.Duration
	BanDuration        time.Duration
	AuditRetentionDays int
}

// Default returns Settings with no roles configured and default durations.
func Default() Settings {
	return Settings{
		PKDuration:         DefaultPKDays * 24 * time.Hour,
		BanDuration:        DefaultBanDays * 24 * time.Hour,
		AuditRetentionDays: DefaultAuditRetentionDays,
	}
}

// Parse builds Settings from raw key/value pairs. Invalid values are left
// unset and reported in the returned error; the Settings are usable either way.
func Parse(raw map[string]string) (Settings, error) {
	s := Default()
	var errs []error

	id := func(key Key, dst *string) {
		v := raw[string(key)]
		if err := ValidateValue(key, v); err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	days := func(key Key, fallback int) int {
		v := raw[string(key)]
		if v == "" {
			return fallback
		}
		if err := ValidateValue(key, v); err != nil {
			errs = append(errs, err)
			return fallback
		}
		n, _ := strconv.Atoi(v)
		return n
	}

	id(KeyAdminRoleID, &s.AdminRoleID)
	id(KeySupervisorRoleID, &s.SupervisorRoleID)
	id(KeyWarnManagerRoleID, &s.WarnManagerRoleID)
	id(KeyPKRoleID, &s.PKRoleID)
	id(KeyBanRoleID, &s.BanRoleID)
	id(KeyWarnChannelID, &s.WarnChannelID)
	id(KeyAlertChannelID, &s.AlertChannelID)
	id(KeyAuditChannelID, &s.AuditChannelID)
	id(KeyErrorChannelID, &s.ErrorChannelID)

	s.PKDuration = time.Duration(days(KeyPKDays, DefaultPKDays)) * 24 * time.Hour
	s.BanDuration = time.Duration(days(KeyBanDays, DefaultBanDays)) * 24 * time.Hour
	s.AuditRetentionDays = days(KeyAuditRetentionDays, DefaultAuditRetentionDays)

	return s, errors.Join(errs...)
}

// RoleFor returns the status role configured for a cooldown kind, or "" if unset.
func (s Settings) RoleFor(kind models.CooldownKind) string {
	switch kind {
	case models.CooldownKindPK:
		return s.PKRoleID
	case models.CooldownKindBan:
		return s.BanRoleID
	}
	return ""
}

// DurationFor returns the default cooldown length for a kind.
func (s Settings) DurationFor(kind models.CooldownKind) time.Duration {
	switch kind {
	case models.CooldownKindBan:
		return s.BanDuration
	default:
		return s.PKDuration
	}
}

// Store reads and writes raw settings.
type Store interface {
	Reader
	SetSetting(ctx context.Context, key, value string) error
}

// Reader reads raw settings.
type Reader interface {
	GetAllSettings(ctx context.Context) (map[string]string, error)
}

// Load reads every setting and parses them. When some values are invalid the
// parsed Settings are still returned together with an error matching
// ErrInvalidValue; any other error means the store could not be read.
func Load(ctx context.Context, store Reader) (Settings, error) {
	raw, err := store.GetAllSettings(ctx)
	if err != nil {
		return Default(), fmt.Errorf("load settings: %w", err)
	}
	return Parse(raw)
}

// IsFatal reports whether an error returned by Load means the settings
// could not be read at all.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrInvalidValue)
}

// Set validates and writes a single setting.
func Set(ctx context.Context, store Store, key Key, value string) error {
	if err := ValidateValue(key, value); err != nil {
		return err
	}
	if err := store.SetSetting(ctx, string(key), value); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}
