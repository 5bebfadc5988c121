package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/XpNow/PHX-Bot/internal/access"
	"github.com/XpNow/PHX-Bot/internal/membership"
	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/XpNow/PHX-Bot/internal/platform"
	"github.com/XpNow/PHX-Bot/internal/ratelimit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	callerID = "100000000000000099"
	targetID = "100000000000000001"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeResolver struct {
	ctx    access.Context
	err    error
	caller access.Caller
	calls  int
}

func (f *fakeResolver) Resolve(_ context.Context, caller access.Caller) (access.Context, error) {
	f.calls++
	f.caller = caller
	return f.ctx, f.err
}

type call struct {
	method string
	userID string
	orgID  string
	withPK bool
	kind   models.CooldownKind
	dur    time.Duration
	reason string
}

type fakeMembers struct {
	calls    []call
	err      error
	roster   []*models.Membership
	warnings []*models.Warning
}

func (f *fakeMembers) AddMember(_ context.Context, _ membership.Actor, userID, orgID string) (*models.Membership, error) {
	f.calls = append(f.calls, call{method: "add", userID: userID, orgID: orgID})
	if f.err != nil {
		return nil, f.err
	}
	return models.NewMembership(userID, orgID), nil
}

func (f *fakeMembers) RemoveMember(_ context.Context, _ membership.Actor, userID string, withPK bool) (*models.Cooldown, error) {
	f.calls = append(f.calls, call{method: "remove", userID: userID, withPK: withPK})
	if f.err != nil || !withPK {
		return nil, f.err
	}
	return models.NewCooldown(userID, models.CooldownKindPK, testNow.Add(72*time.Hour), "ballas"), nil
}

func (f *fakeMembers) ApplyCooldown(_ context.Context, _ membership.Actor, userID string, kind models.CooldownKind, duration time.Duration) (*models.Cooldown, error) {
	f.calls = append(f.calls, call{method: "cooldown", userID: userID, kind: kind, dur: duration})
	if f.err != nil {
		return nil, f.err
	}
	return models.NewCooldown(userID, kind, testNow.Add(duration), ""), nil
}

func (f *fakeMembers) ClearCooldown(_ context.Context, _ membership.Actor, userID string) error {
	f.calls = append(f.calls, call{method: "clear", userID: userID})
	return f.err
}

func (f *fakeMembers) IssueWarning(_ context.Context, actor membership.Actor, orgID string, payload models.WarningPayload, ttl time.Duration) (*models.Warning, error) {
	f.calls = append(f.calls, call{method: "warn", orgID: orgID, dur: ttl, reason: payload.Reason})
	if f.err != nil {
		return nil, f.err
	}
	return models.NewWarning(orgID, actor.UserID, payload, ttl, testNow)
}

func (f *fakeMembers) Roster(_ context.Context, _ membership.Actor, orgID string) (*models.Organization, []*models.Membership, error) {
	f.calls = append(f.calls, call{method: "roster", orgID: orgID})
	if f.err != nil {
		return nil, nil, f.err
	}
	return models.NewOrganization("ballas", "Ballas", models.OrganizationKindPrimary, "r"), f.roster, nil
}

func (f *fakeMembers) OrganizationCooldowns(_ context.Context, _ membership.Actor, orgID string) (*models.Organization, []*models.Cooldown, error) {
	f.calls = append(f.calls, call{method: "cooldowns", orgID: orgID})
	if f.err != nil {
		return nil, nil, f.err
	}
	return models.NewOrganization("ballas", "Ballas", models.OrganizationKindPrimary, "r"), []*models.Cooldown{
		models.NewCooldown(targetID, models.CooldownKindPK, testNow.Add(time.Hour), "ballas"),
		models.NewCooldown("100000000000000002", models.CooldownKindPK, testNow.Add(-time.Hour), "ballas"),
	}, nil
}

func (f *fakeMembers) SetRank(_ context.Context, _ membership.Actor, userID, rankKey string) (*models.Membership, error) {
	f.calls = append(f.calls, call{method: "rank", userID: userID, reason: rankKey})
	if f.err != nil {
		return nil, f.err
	}
	m := models.NewMembership(userID, "lspd")
	m.RankKey = rankKey
	return m, nil
}

func (f *fakeMembers) DeleteOrganization(_ context.Context, _ membership.Actor, orgID string) (*models.Organization, error) {
	f.calls = append(f.calls, call{method: "delete", orgID: orgID})
	if f.err != nil {
		return nil, f.err
	}
	return models.NewOrganization(orgID, "Ballas", models.OrganizationKindPrimary, "r"), nil
}

func (f *fakeMembers) ActiveWarnings(_ context.Context, _ membership.Actor, orgID string) (*models.Organization, []*models.Warning, error) {
	f.calls = append(f.calls, call{method: "warnings", orgID: orgID})
	if f.err != nil {
		return nil, nil, f.err
	}
	return models.NewOrganization(orgID, "Ballas", models.OrganizationKindPrimary, "r"), f.warnings, nil
}

func (f *fakeMembers) FactionAlert(_ context.Context, _ membership.Actor, alert membership.Alert) (*platform.Message, error) {
	f.calls = append(f.calls, call{method: "alert", reason: alert.Location})
	if f.err != nil {
		return nil, f.err
	}
	return &platform.Message{ID: "600000000000000001"}, nil
}

type fakeLimiter struct {
	result ratelimit.Result
	err    error
	keys   []string
}

func (f *fakeLimiter) Allow(_ context.Context, scopeRole, action, userID string) (ratelimit.Result, error) {
	f.keys = append(f.keys, ratelimit.Key(scopeRole, action, userID))
	return f.result, f.err
}

type fakeStatus struct {
	org        *models.Organization
	membership *models.Membership
	cooldown   *models.Cooldown
	lastOrg    *models.LastOrganization
	err        error
}

func (f *fakeStatus) GetOrganization(context.Context, string) (*models.Organization, error) {
	return f.org, f.err
}

func (f *fakeStatus) GetMembership(context.Context, string) (*models.Membership, error) {
	return f.membership, f.err
}

func (f *fakeStatus) GetCooldown(context.Context, string) (*models.Cooldown, error) {
	return f.cooldown, f.err
}

func (f *fakeStatus) GetLastOrganization(context.Context, string) (*models.LastOrganization, error) {
	return f.lastOrg, f.err
}

type harness struct {
	resolver *fakeResolver
	members  *fakeMembers
	limiter  *fakeLimiter
	status   *fakeStatus
	d        *Dispatcher
}

func newHarness(ac access.Context) *harness {
	h := &harness{
		resolver: &fakeResolver{ctx: ac},
		members:  &fakeMembers{},
		limiter:  &fakeLimiter{result: ratelimit.Result{Allowed: true}},
		status:   &fakeStatus{},
	}
	h.d = NewDispatcher(h.resolver, h.members, h.limiter, h.status, zerolog.Nop())
	h.d.now = func() time.Time { return testNow }
	return h
}

func adminContext() access.Context {
	return access.Context{ScopeRole: access.ScopeAdmin, IsAdmin: true, CanManageWarnings: true}
}

func memberContext() access.Context {
	return access.Context{ScopeRole: access.ScopeMember}
}

func cmd(name, sub string, opts map[string]any) Command {
	if opts == nil {
		opts = map[string]any{}
	}
	return Command{Name: name, Subcommand: sub, CallerID: callerID, CallerRoleIDs: []string{"r1"}, GuildOwnerID: "owner", Options: opts}
}

func TestHandleUnknownCommand(t *testing.T) {
	h := newHarness(adminContext())

	reply := h.d.Handle(context.Background(), cmd("nope", "", nil))
	assert.Equal(t, msgUnknown, reply.Content)
	assert.Zero(t, h.resolver.calls)

	reply = h.d.Handle(context.Background(), cmd(CommandOrg, "promote", nil))
	assert.Equal(t, msgUnknown, reply.Content)
}

func TestHandlePassesCallerToResolver(t *testing.T) {
	h := newHarness(adminContext())

	h.d.Handle(context.Background(), cmd(CommandStatus, "", nil))
	assert.Equal(t, access.Caller{UserID: callerID, RoleIDs: []string{"r1"}, GuildOwnerID: "owner"}, h.resolver.caller)
}

func TestHandleResolverFailure(t *testing.T) {
	h := newHarness(adminContext())
	h.resolver.err = errors.New("db down")

	reply := h.d.Handle(context.Background(), cmd(CommandOrg, SubAdd, map[string]any{OptUser: targetID, OptOrganization: "ballas"}))
	assert.Equal(t, msgInternal, reply.Content)
	assert.True(t, reply.Ephemeral)
	assert.Empty(t, h.members.calls)
}

func TestOrgAdd(t *testing.T) {
	h := newHarness(adminContext())

	reply := h.d.Handle(context.Background(), cmd(CommandOrg, SubAdd, map[string]any{OptUser: targetID, OptOrganization: "ballas"}))
	assert.Equal(t, "Added <@"+targetID+"> to ballas.", reply.Content)
	require.Len(t, h.members.calls, 1)
	assert.Equal(t, call{method: "add", userID: targetID, orgID: "ballas"}, h.members.calls[0])
	assert.Equal(t, []string{ratelimit.Key("ADMIN", "member.add", callerID)}, h.limiter.keys)
}

func TestOrgAddDeniedForPlainMember(t *testing.T) {
	h := newHarness(memberContext())

	reply := h.d.Handle(context.Background(), cmd(CommandOrg, SubAdd, map[string]any{OptUser: targetID, OptOrganization: "ballas"}))
	assert.Equal(t, msgAccessDenied, reply.Content)
	assert.Empty(t, h.members.calls)
}

func TestOrgRemoveWithPK(t *testing.T) {
	h := newHarness(adminContext())

	reply := h.d.Handle(context.Background(), cmd(CommandOrg, SubRemove, map[string]any{OptUser: targetID, OptPK: true}))
	require.Len(t, h.members.calls, 1)
	assert.True(t, h.members.calls[0].withPK)
	assert.Contains(t, reply.Content, "PK cooldown until <t:")
}

func TestServiceErrorsAreMapped(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{access.ErrPermissionDenied, msgAccessDenied},
		{membership.ErrAlreadyMember, "That user already belongs to an organization."},
		{fmt.Errorf("%w: PK until later", membership.ErrInCooldown), "That user is in cooldown and cannot join an organization."},
		{membership.ErrOrganizationNotFound, "That organization does not exist or is inactive."},
		{errors.New("boom"), msgInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newHarness(adminContext())
			h.members.err = tt.err

			reply := h.d.Handle(context.Background(), cmd(CommandOrg, SubAdd, map[string]any{OptUser: targetID, OptOrganization: "ballas"}))
			assert.Equal(t, tt.want, reply.Content)
		})
	}
}

func TestRateLimited(t *testing.T) {
	h := newHarness(adminContext())
	h.limiter.result = ratelimit.Result{Allowed: false, Limit: 5, ResetAt: testNow.Add(30 * time.Second)}

	reply := h.d.Handle(context.Background(), cmd(CommandCooldown, SubClear, map[string]any{OptUser: targetID}))
	assert.Equal(t, "You are doing that too often. Try again in 30s.", reply.Content)
	assert.Empty(t, h.members.calls)
}

func TestRateLimitErrorFailsOpen(t *testing.T) {
	h := newHarness(adminContext())
	h.limiter.err = errors.New("redis down")

	reply := h.d.Handle(context.Background(), cmd(CommandCooldown, SubClear, map[string]any{OptUser: targetID}))
	assert.Equal(t, "Cooldown cleared for <@"+targetID+">.", reply.Content)
	assert.Len(t, h.members.calls, 1)
}

func TestNilLimiter(t *testing.T) {
	h := newHarness(adminContext())
	h.d.limiter = nil

	reply := h.d.Handle(context.Background(), cmd(CommandCooldown, SubClear, map[string]any{OptUser: targetID}))
	assert.Equal(t, "Cooldown cleared for <@"+targetID+">.", reply.Content)
}

func TestCooldownSet(t *testing.T) {
	t.Run("explicit days", func(t *testing.T) {
		h := newHarness(adminContext())
		h.d.Handle(context.Background(), cmd(CommandCooldown, SubSet, map[string]any{OptUser: targetID, OptKind: "ban", OptDays: int64(7)}))
		require.Len(t, h.members.calls, 1)
		assert.Equal(t, models.CooldownKindBan, h.members.calls[0].kind)
		assert.Equal(t, 7*24*time.Hour, h.members.calls[0].dur)
	})

	t.Run("default length", func(t *testing.T) {
		h := newHarness(adminContext())
		h.d.Handle(context.Background(), cmd(CommandCooldown, SubSet, map[string]any{OptUser: targetID, OptKind: "PK"}))
		require.Len(t, h.members.calls, 1)
		assert.Zero(t, h.members.calls[0].dur)
	})

	t.Run("invalid kind", func(t *testing.T) {
		h := newHarness(adminContext())
		reply := h.d.Handle(context.Background(), cmd(CommandCooldown, SubSet, map[string]any{OptUser: targetID, OptKind: "JAIL"}))
		assert.Equal(t, "Invalid cooldown.", reply.Content)
		assert.Empty(t, h.members.calls)
	})

	t.Run("non-positive days", func(t *testing.T) {
		h := newHarness(adminContext())
		reply := h.d.Handle(context.Background(), cmd(CommandCooldown, SubSet, map[string]any{OptUser: targetID, OptKind: "PK", OptDays: int64(0)}))
		assert.Equal(t, "Invalid cooldown.", reply.Content)
	})

	t.Run("leaders cannot", func(t *testing.T) {
		org := models.NewOrganization("ballas", "Ballas", models.OrganizationKindPrimary, "r")
		h := newHarness(access.Context{ScopeRole: access.ScopeRole(access.RankLeader), Organization: org, RankKey: access.RankLeader})
		reply := h.d.Handle(context.Background(), cmd(CommandCooldown, SubSet, map[string]any{OptUser: targetID, OptKind: "PK"}))
		assert.Equal(t, msgAccessDenied, reply.Content)
	})
}

func TestWarn(t *testing.T) {
	h := newHarness(adminContext())

	reply := h.d.Handle(context.Background(), cmd(CommandWarn, "", map[string]any{
		OptOrganization: "ballas",
		OptReason:       "  shooting at spawn ",
		OptDays:         int64(14),
	}))
	require.Len(t, h.members.calls, 1)
	assert.Equal(t, "shooting at spawn", h.members.calls[0].reason)
	assert.Equal(t, 14*24*time.Hour, h.members.calls[0].dur)
	assert.Contains(t, reply.Content, "issued to ballas, expires")
}

func TestWarnRequiresWarningManager(t *testing.T) {
	ac := adminContext()
	ac.CanManageWarnings = false
	h := newHarness(ac)

	reply := h.d.Handle(context.Background(), cmd(CommandWarn, "", map[string]any{OptOrganization: "ballas", OptReason: "x"}))
	assert.Equal(t, msgAccessDenied, reply.Content)
}

func TestStatus(t *testing.T) {
	t.Run("self without organization", func(t *testing.T) {
		h := newHarness(memberContext())

		reply := h.d.Handle(context.Background(), cmd(CommandStatus, "", nil))
		require.Len(t, reply.Embeds, 1)
		fields := reply.Embeds[0].Fields
		require.Len(t, fields, 3)
		assert.Equal(t, "<@"+callerID+">", fields[0].Value)
		assert.Equal(t, "None", fields[1].Value)
		assert.Equal(t, "None", fields[2].Value)
		assert.Empty(t, h.limiter.keys)
	})

	t.Run("member with cooldown", func(t *testing.T) {
		h := newHarness(memberContext())
		h.status.membership = models.NewMembership(callerID, "ballas")
		h.status.org = models.NewOrganization("ballas", "Ballas", models.OrganizationKindPrimary, "r")
		h.status.cooldown = models.NewCooldown(callerID, models.CooldownKindBan, testNow.Add(time.Hour), "")

		reply := h.d.Handle(context.Background(), cmd(CommandStatus, "", nil))
		fields := reply.Embeds[0].Fields
		require.Len(t, fields, 4)
		assert.Equal(t, "Ballas", fields[1].Value)
		assert.Equal(t, models.DefaultRankKey, fields[2].Value)
		assert.Contains(t, fields[3].Value, "BAN, expires <t:")
	})

	t.Run("former member shows last organization", func(t *testing.T) {
		h := newHarness(memberContext())
		h.status.org = models.NewOrganization("ballas", "Ballas", models.OrganizationKindPrimary, "r")
		h.status.lastOrg = &models.LastOrganization{UserID: callerID, OrganizationID: "ballas", LeftAt: testNow.Add(-time.Hour)}

		reply := h.d.Handle(context.Background(), cmd(CommandStatus, "", nil))
		fields := reply.Embeds[0].Fields
		require.Len(t, fields, 4)
		assert.Equal(t, "None", fields[1].Value)
		assert.Equal(t, "Last organization", fields[2].Name)
		assert.Contains(t, fields[2].Value, "Ballas, left <t:")
	})

	t.Run("expired cooldown hidden", func(t *testing.T) {
		h := newHarness(memberContext())
		h.status.cooldown = models.NewCooldown(callerID, models.CooldownKindPK, testNow.Add(-time.Minute), "")

		reply := h.d.Handle(context.Background(), cmd(CommandStatus, "", nil))
		fields := reply.Embeds[0].Fields
		assert.Equal(t, "None", fields[len(fields)-1].Value)
	})

	t.Run("other user requires menu access", func(t *testing.T) {
		h := newHarness(memberContext())
		reply := h.d.Handle(context.Background(), cmd(CommandStatus, "", map[string]any{OptUser: targetID}))
		assert.Equal(t, msgAccessDenied, reply.Content)
	})

	t.Run("store failure", func(t *testing.T) {
		h := newHarness(adminContext())
		h.status.err = errors.New("db down")
		reply := h.d.Handle(context.Background(), cmd(CommandStatus, "", map[string]any{OptUser: targetID}))
		assert.Equal(t, msgInternal, reply.Content)
	})
}

func TestOrgRoster(t *testing.T) {
	h := newHarness(memberContext())
	h.members.roster = []*models.Membership{models.NewMembership(targetID, "ballas")}

	reply := h.d.Handle(context.Background(), cmd(CommandOrg, SubRoster, nil))
	require.Len(t, h.members.calls, 1)
	assert.Equal(t, call{method: "roster"}, h.members.calls[0])
	require.Len(t, reply.Embeds, 1)
	assert.Equal(t, "Ballas roster (1)", reply.Embeds[0].Title)
	assert.Equal(t, "<@"+targetID+"> MEMBER", reply.Embeds[0].Description)
	assert.Empty(t, h.limiter.keys, "read-only commands are not rate limited")

	h.members.roster = nil
	reply = h.d.Handle(context.Background(), cmd(CommandOrg, SubRoster, map[string]any{OptOrganization: "ballas"}))
	assert.Equal(t, "ballas", h.members.calls[1].orgID)
	assert.Equal(t, "No members.", reply.Embeds[0].Description)
}

func TestOrgCooldownsHidesExpired(t *testing.T) {
	h := newHarness(adminContext())

	reply := h.d.Handle(context.Background(), cmd(CommandOrg, SubCooldowns, map[string]any{OptOrganization: "ballas"}))
	require.Len(t, reply.Embeds, 1)
	assert.Equal(t, "Ballas cooldowns", reply.Embeds[0].Title)
	assert.Contains(t, reply.Embeds[0].Description, "<@"+targetID+"> PK, expires <t:")
	assert.NotContains(t, reply.Embeds[0].Description, "100000000000000002")
}

func TestOrgRank(t *testing.T) {
	h := newHarness(adminContext())

	reply := h.d.Handle(context.Background(), cmd(CommandOrg, SubRank, map[string]any{OptUser: targetID, OptRank: "hr"}))
	require.Len(t, h.members.calls, 1)
	assert.Equal(t, call{method: "rank", userID: targetID, reason: "HR"}, h.members.calls[0])
	assert.Equal(t, "<@"+targetID+"> is now HR in lspd.", reply.Content)
	assert.Equal(t, []string{ratelimit.Key("ADMIN", "member.rank", callerID)}, h.limiter.keys)

	h = newHarness(memberContext())
	reply = h.d.Handle(context.Background(), cmd(CommandOrg, SubRank, map[string]any{OptUser: targetID, OptRank: "HR"}))
	assert.Equal(t, msgAccessDenied, reply.Content)
	assert.Empty(t, h.members.calls)

	h = newHarness(adminContext())
	h.members.err = fmt.Errorf("%w: lspd has no rank", membership.ErrUnknownRank)
	reply = h.d.Handle(context.Background(), cmd(CommandOrg, SubRank, map[string]any{OptUser: targetID, OptRank: "X"}))
	assert.Equal(t, "That organization has no such rank.", reply.Content)
}

func TestOrgDelete(t *testing.T) {
	h := newHarness(adminContext())

	reply := h.d.Handle(context.Background(), cmd(CommandOrg, SubDelete, map[string]any{OptOrganization: "ballas"}))
	assert.Equal(t, "Ballas has been deactivated.", reply.Content)
	assert.Equal(t, []string{ratelimit.Key("ADMIN", "organization.delete", callerID)}, h.limiter.keys)

	h.members.err = access.ErrPermissionDenied
	reply = h.d.Handle(context.Background(), cmd(CommandOrg, SubDelete, map[string]any{OptOrganization: "ballas"}))
	assert.Equal(t, msgAccessDenied, reply.Content)
}

func TestWarningsList(t *testing.T) {
	h := newHarness(adminContext())
	w, err := models.NewWarning("ballas", callerID, models.WarningPayload{Reason: "spam"}, time.Hour, testNow)
	require.NoError(t, err)
	h.members.warnings = []*models.Warning{w}

	reply := h.d.Handle(context.Background(), cmd(CommandWarnings, "", map[string]any{OptOrganization: "ballas"}))
	require.Len(t, reply.Embeds, 1)
	assert.Equal(t, "Ballas warnings (1)", reply.Embeds[0].Title)
	assert.Contains(t, reply.Embeds[0].Description, "`"+w.ID+"` spam, expires <t:")
}

func TestFactionAlertCommand(t *testing.T) {
	h := newHarness(memberContext())

	reply := h.d.Handle(context.Background(), cmd(CommandAlert, "", map[string]any{OptLocation: " Grove Street ", OptDetails: "4 cars"}))
	assert.Equal(t, "Alert sent.", reply.Content)
	require.Len(t, h.members.calls, 1)
	assert.Equal(t, "Grove Street", h.members.calls[0].reason)
	assert.Equal(t, []string{ratelimit.Key("MEMBER", "faction.alert", callerID)}, h.limiter.keys)

	for err, want := range map[error]string{
		membership.ErrAlertChannelUnset: "No alert channel is configured.",
		membership.ErrInvalidAlert:      "An alert needs a location.",
	} {
		h.members.err = err
		reply = h.d.Handle(context.Background(), cmd(CommandAlert, "", map[string]any{OptLocation: "x"}))
		assert.Equal(t, want, reply.Content)
	}
}

func TestListEmbedTruncates(t *testing.T) {
	lines := make([]string, maxListLines+5)
	for i := range lines {
		lines[i] = fmt.Sprint(i)
	}
	e := listEmbed("t", lines, "empty")
	assert.True(t, strings.HasSuffix(e.Description, "and 5 more"))
	assert.Len(t, lines, maxListLines+5)
}

func TestCommandOptionAccessors(t *testing.T) {
	c := Command{Options: map[string]any{"s": " x ", "i": int64(3), "f": float64(4), "b": true}}

	assert.Equal(t, "x", c.String("s"))
	assert.Equal(t, "", c.String("missing"))
	n, ok := c.Int("i")
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)
	n, ok = c.Int("f")
	assert.True(t, ok)
	assert.Equal(t, int64(4), n)
	_, ok = c.Int("s")
	assert.False(t, ok)
	assert.True(t, c.Bool("b"))
	assert.False(t, c.Bool("s"))
}
