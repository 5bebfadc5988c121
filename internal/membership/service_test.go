package membership

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/XpNow/PHX-Bot/internal/access"
	"github.com/XpNow/PHX-Bot/internal/db/sqlite"
	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/XpNow/PHX-Bot/internal/platform"
	"github.com/XpNow/PHX-Bot/internal/settings"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	guildID     = "900000000000000001"
	pkRole      = "800000000000000001"
	banRole     = "800000000000000002"
	ballasRole  = "800000000000000010"
	leaderRole  = "800000000000000011"
	warnChannel = "700000000000000001"
	actorID     = "100000000000000099"
	userA       = "100000000000000001"
)

type roleOp struct {
	add    bool
	userID string
	roleID string
}

type fakePlatform struct {
	mu      sync.Mutex
	ops     []roleOp
	embeds  []platform.Embed
	addErr  error
	sendErr error
}

func (f *fakePlatform) AddRole(_ context.Context, _, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.ops = append(f.ops, roleOp{add: true, userID: userID, roleID: roleID})
	return nil
}

func (f *fakePlatform) RemoveRole(_ context.Context, _, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, roleOp{userID: userID, roleID: roleID})
	return nil
}

func (f *fakePlatform) SendEmbed(_ context.Context, channelID string, embed platform.Embed) (*platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.embeds = append(f.embeds, embed)
	return &platform.Message{ID: "600000000000000001", ChannelID: channelID}, nil
}

type fixture struct {
	store    *sqlite.Store
	platform *fakePlatform
	service  *Service
	now      time.Time
	ballas   *models.Organization
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	logger := zerolog.New(zerolog.NewTestWriter(t))
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "phxbot.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.SetSetting(ctx, string(settings.KeyPKRoleID), pkRole))
	require.NoError(t, store.SetSetting(ctx, string(settings.KeyBanRoleID), banRole))
	require.NoError(t, store.SetSetting(ctx, string(settings.KeyWarnChannelID), warnChannel))

	ballas := models.NewOrganization("ballas", "Ballas", models.OrganizationKindPrimary, ballasRole)
	require.NoError(t, store.UpsertOrganization(ctx, ballas))
	require.NoError(t, store.UpsertRankBinding(ctx, models.NewRankBinding("ballas", access.RankLeader, leaderRole, 100)))

	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	p := &fakePlatform{}
	svc := NewService(store, p, guildID, logger, WithClock(func() time.Time { return now }))

	return &fixture{store: store, platform: p, service: svc, now: now, ballas: ballas}
}

func adminActor() Actor {
	return Actor{UserID: actorID, Access: access.Context{ScopeRole: access.ScopeAdmin, IsAdmin: true, CanManageWarnings: true}}
}

func leaderActor(org *models.Organization) Actor {
	return Actor{UserID: actorID, Access: access.Context{ScopeRole: access.ScopeRole(access.RankLeader), Organization: org, RankKey: access.RankLeader}}
}

func memberActor() Actor {
	return Actor{UserID: actorID, Access: access.Context{ScopeRole: access.ScopeMember}}
}

func TestAddMember(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	m, err := f.service.AddMember(ctx, leaderActor(f.ballas), userA, "ballas")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRankKey, m.RankKey)
	assert.Equal(t, []roleOp{{add: true, userID: userA, roleID: ballasRole}}, f.platform.ops)

	stored, err := f.store.GetMembership(ctx, userA)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "ballas", stored.OrganizationID)

	logs, err := f.store.ListAuditLogsByTarget(ctx, userA, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionMemberAdd, logs[0].Action)

	_, err = f.service.AddMember(ctx, leaderActor(f.ballas), userA, "ballas")
	assert.ErrorIs(t, err, ErrAlreadyMember)
}

func TestAddMemberRejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.service.AddMember(ctx, memberActor(), userA, "ballas")
	assert.ErrorIs(t, err, access.ErrPermissionDenied)

	_, err = f.service.AddMember(ctx, adminActor(), userA, "vagos")
	assert.ErrorIs(t, err, ErrOrganizationNotFound)

	_, err = f.service.AddMember(ctx, adminActor(), "not-a-user", "ballas")
	assert.ErrorIs(t, err, ErrInvalidUser)

	other := models.NewOrganization("vagos", "Vagos", models.OrganizationKindPrimary, "")
	require.NoError(t, f.store.UpsertOrganization(ctx, other))
	_, err = f.service.AddMember(ctx, leaderActor(other), userA, "ballas")
	assert.ErrorIs(t, err, access.ErrPermissionDenied, "leaders only manage their own organization")

	cooldown := models.NewCooldown(userA, models.CooldownKindPK, f.now.Add(time.Hour), "vagos")
	require.NoError(t, f.store.UpsertCooldown(ctx, cooldown))
	_, err = f.service.AddMember(ctx, adminActor(), userA, "ballas")
	assert.ErrorIs(t, err, ErrInCooldown)

	assert.Empty(t, f.platform.ops)
}

func TestAddMemberAfterCooldownExpiry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cooldown := models.NewCooldown(userA, models.CooldownKindPK, f.now, "ballas")
	require.NoError(t, f.store.UpsertCooldown(ctx, cooldown))

	_, err := f.service.AddMember(ctx, adminActor(), userA, "ballas")
	assert.NoError(t, err)
}

func TestAddMemberRoleFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.platform.addErr = errors.New("missing permissions")

	_, err := f.service.AddMember(ctx, adminActor(), userA, "ballas")
	require.Error(t, err)

	stored, err := f.store.GetMembership(ctx, userA)
	require.NoError(t, err)
	assert.Nil(t, stored, "membership must not be recorded without the base role")
}

func TestRemoveMemberWithPK(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.store.SetMembership(ctx, &models.Membership{
		UserID: userA, OrganizationID: "ballas", RankKey: access.RankLeader, UpdatedAt: f.now,
	}))

	cooldown, err := f.service.RemoveMember(ctx, adminActor(), userA, true)
	require.NoError(t, err)
	require.NotNil(t, cooldown)
	assert.Equal(t, models.CooldownKindPK, cooldown.Kind)
	assert.Equal(t, "ballas", cooldown.LastOrganizationID)
	assert.True(t, cooldown.ExpiresAt.Equal(f.now.Add(settings.DefaultPKDays*24*time.Hour)))

	assert.Equal(t, []roleOp{
		{userID: userA, roleID: ballasRole},
		{userID: userA, roleID: leaderRole},
		{add: true, userID: userA, roleID: pkRole},
	}, f.platform.ops)

	stored, err := f.store.GetCooldown(ctx, userA)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.CooldownKindPK, stored.Kind)

	last, err := f.store.GetLastOrganization(ctx, userA)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "ballas", last.OrganizationID)

	m, err := f.store.GetMembership(ctx, userA)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestRemoveMemberWithoutPK(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.store.SetMembership(ctx, models.NewMembership(userA, "ballas")))

	cooldown, err := f.service.RemoveMember(ctx, leaderActor(f.ballas), userA, false)
	require.NoError(t, err)
	assert.Nil(t, cooldown)

	stored, err := f.store.GetCooldown(ctx, userA)
	require.NoError(t, err)
	assert.Nil(t, stored)

	_, err = f.service.RemoveMember(ctx, adminActor(), userA, false)
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestRemoveMemberPKRoleFailureKeepsRecord(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.platform.addErr = errors.New("rate limited")

	require.NoError(t, f.store.SetMembership(ctx, models.NewMembership(userA, "ballas")))

	_, err := f.service.RemoveMember(ctx, adminActor(), userA, true)
	require.NoError(t, err)

	stored, err := f.store.GetCooldown(ctx, userA)
	require.NoError(t, err)
	assert.NotNil(t, stored, "drift correction restores the role later")
}

type failingClearStore struct {
	*sqlite.Store
}

func (s *failingClearStore) ClearMembership(context.Context, string) error {
	return errors.New("database is locked")
}

func TestRemoveMemberStoreFailureKeepsRoles(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetMembership(ctx, &models.Membership{
		UserID: userA, OrganizationID: "ballas", RankKey: access.RankLeader, UpdatedAt: f.now,
	}))

	svc := NewService(&failingClearStore{Store: f.store}, f.platform, guildID, zerolog.Nop(),
		WithClock(func() time.Time { return f.now }))
	_, err := svc.RemoveMember(ctx, adminActor(), userA, true)
	require.Error(t, err)

	assert.Empty(t, f.platform.ops, "roles stay while the membership row does")

	m, err := f.store.GetMembership(ctx, userA)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "ballas", m.OrganizationID)

	cooldown, err := f.store.GetCooldown(ctx, userA)
	require.NoError(t, err)
	assert.Nil(t, cooldown)
}

func TestApplyCooldown(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.service.ApplyCooldown(ctx, leaderActor(f.ballas), userA, models.CooldownKindBan, time.Hour)
	assert.ErrorIs(t, err, access.ErrPermissionDenied)

	_, err = f.service.ApplyCooldown(ctx, adminActor(), userA, "KICK", time.Hour)
	assert.ErrorIs(t, err, ErrInvalidCooldown)

	_, err = f.service.ApplyCooldown(ctx, adminActor(), userA, models.CooldownKindBan, -time.Hour)
	assert.ErrorIs(t, err, ErrInvalidCooldown)

	pk, err := f.service.ApplyCooldown(ctx, adminActor(), userA, models.CooldownKindPK, 0)
	require.NoError(t, err)
	assert.True(t, pk.ExpiresAt.Equal(f.now.Add(settings.DefaultPKDays*24*time.Hour)))

	ban, err := f.service.ApplyCooldown(ctx, adminActor(), userA, models.CooldownKindBan, 2*time.Hour)
	require.NoError(t, err)
	assert.True(t, ban.ExpiresAt.Equal(f.now.Add(2*time.Hour)))

	stored, err := f.store.GetCooldown(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, models.CooldownKindBan, stored.Kind, "a user holds a single cooldown")

	assert.Equal(t, []roleOp{
		{add: true, userID: userA, roleID: pkRole},
		{userID: userA, roleID: pkRole},
		{add: true, userID: userA, roleID: banRole},
	}, f.platform.ops)
}

func TestClearCooldown(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.service.ClearCooldown(ctx, adminActor(), userA), ErrNoCooldown)

	require.NoError(t, f.store.UpsertCooldown(ctx, models.NewCooldown(userA, models.CooldownKindBan, f.now.Add(time.Hour), "")))

	assert.ErrorIs(t, f.service.ClearCooldown(ctx, memberActor(), userA), access.ErrPermissionDenied)
	require.NoError(t, f.service.ClearCooldown(ctx, adminActor(), userA))

	stored, err := f.store.GetCooldown(ctx, userA)
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Equal(t, []roleOp{{userID: userA, roleID: banRole}}, f.platform.ops)

	logs, err := f.store.ListAuditLogsByTarget(ctx, userA, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionCooldownClear, logs[0].Action)
}

func TestIssueWarning(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	payload := models.WarningPayload{Reason: "Unprovoked shooting", Sanction: "1/3"}

	_, err := f.service.IssueWarning(ctx, leaderActor(f.ballas), "ballas", payload, time.Hour)
	assert.ErrorIs(t, err, access.ErrPermissionDenied)

	_, err = f.service.IssueWarning(ctx, adminActor(), "ballas", models.WarningPayload{}, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidWarning)

	w, err := f.service.IssueWarning(ctx, adminActor(), "ballas", payload, 24*time.Hour)
	require.NoError(t, err)
	assert.Regexp(t, `^MW-[0-9]{4}-[0-9]{6}$`, w.ID)
	assert.Equal(t, models.WarningStatusActive, w.Status)
	assert.Equal(t, "600000000000000001", w.MessageID)

	require.Len(t, f.platform.embeds, 1)
	assert.Equal(t, "Warning "+w.ID, f.platform.embeds[0].Title)

	stored, err := f.store.GetWarning(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "600000000000000001", stored.MessageID)
	require.NotNil(t, stored.ExpiresAt)
	assert.True(t, stored.ExpiresAt.Equal(f.now.Add(24*time.Hour)))
}

// collidingStore makes the first CreateWarning hit an id that is already taken.
type collidingStore struct {
	*sqlite.Store
	collided bool
	takenID  string
}

func (s *collidingStore) CreateWarning(ctx context.Context, w *models.Warning) error {
	if !s.collided {
		s.collided = true
		s.takenID = w.ID
		existing := *w
		if err := s.Store.CreateWarning(ctx, &existing); err != nil {
			return err
		}
	}
	return s.Store.CreateWarning(ctx, w)
}

func TestIssueWarningRetriesTakenID(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	store := &collidingStore{Store: f.store}
	svc := NewService(store, f.platform, guildID, zerolog.Nop(),
		WithClock(func() time.Time { return f.now }))

	w, err := svc.IssueWarning(ctx, adminActor(), "ballas", models.WarningPayload{Reason: "spam"}, 0)
	require.NoError(t, err)
	require.True(t, store.collided)
	assert.NotEqual(t, store.takenID, w.ID)
	assert.Regexp(t, `^MW-2026-[0-9]{6}$`, w.ID)

	warnings, err := f.store.ListActiveWarnings(ctx, "ballas")
	require.NoError(t, err)
	assert.Len(t, warnings, 2)
}

func TestIssueWarningPostFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.platform.sendErr = errors.New("unknown channel")

	w, err := f.service.IssueWarning(ctx, adminActor(), "ballas", models.WarningPayload{Reason: "spam"}, 0)
	require.NoError(t, err)
	assert.Empty(t, w.MessageID)
	assert.Nil(t, w.ExpiresAt)

	stored, err := f.store.GetWarning(ctx, w.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestWarningEmbed(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	w, err := models.NewWarning("ballas", actorID, models.WarningPayload{Reason: "spam"}, 0, now)
	require.NoError(t, err)

	e := WarningEmbed(w, &models.Organization{ID: "ballas", Name: "Ballas"}, models.WarningPayload{Reason: "spam", TargetName: "Tommy"})
	assert.Equal(t, platform.ColorDanger, e.Color)
	assert.Equal(t, "Warn ID: "+w.ID, e.Footer)

	var names []string
	for _, field := range e.Fields {
		names = append(names, field.Name)
	}
	assert.Equal(t, []string{"Organization", "Issued by", "Reason", "Target", "Expires"}, names)
	assert.Equal(t, "Never", e.Fields[len(e.Fields)-1].Value)
}
