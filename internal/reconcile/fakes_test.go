package reconcile

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/XpNow/PHX-Bot/internal/platform"
)

const (
	guildID     = "900000000000000001"
	pkRole      = "800000000000000001"
	banRole     = "800000000000000002"
	warnChannel = "700000000000000001"
	userA       = "100000000000000001"
	userB       = "100000000000000002"
	userC       = "100000000000000003"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeStore struct {
	mu        sync.Mutex
	settings  map[string]string
	cooldowns map[string]*models.Cooldown
	warnings  map[string]*models.Warning

	// staleExpiring is returned by ListExpiringWarnings regardless of now.
	staleExpiring []*models.Warning

	settingsErr     error
	listCooldownErr error
	clearErr        error
	upsertErr       error
	setStatusErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings: map[string]string{
			"ROLE_PK_ID":      pkRole,
			"ROLE_BAN_ID":     banRole,
			"WARN_CHANNEL_ID": warnChannel,
		},
		cooldowns: make(map[string]*models.Cooldown),
		warnings:  make(map[string]*models.Warning),
	}
}

func (f *fakeStore) GetAllSettings(_ context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settingsErr != nil {
		return nil, f.settingsErr
	}
	out := make(map[string]string, len(f.settings))
	for k, v := range f.settings {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) ListExpiringCooldowns(_ context.Context, now time.Time) ([]*models.Cooldown, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listCooldownErr != nil {
		return nil, f.listCooldownErr
	}
	var out []*models.Cooldown
	for _, cd := range f.cooldowns {
		if !cd.ExpiresAt.After(now) {
			c := *cd
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (f *fakeStore) ClearExpiredCooldown(_ context.Context, userID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return false, f.clearErr
	}
	cd, ok := f.cooldowns[userID]
	if !ok || cd.ExpiresAt.After(now) {
		return false, nil
	}
	delete(f.cooldowns, userID)
	return true, nil
}

func (f *fakeStore) ListCooldowns(_ context.Context, kind models.CooldownKind) ([]*models.Cooldown, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listCooldownErr != nil {
		return nil, f.listCooldownErr
	}
	var out []*models.Cooldown
	for _, cd := range f.cooldowns {
		if cd.Kind == kind {
			c := *cd
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (f *fakeStore) UpsertCooldown(_ context.Context, cd *models.Cooldown) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	c := *cd
	f.cooldowns[cd.UserID] = &c
	return nil
}

func (f *fakeStore) ListExpiringWarnings(_ context.Context, now time.Time) ([]*models.Warning, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Warning
	for _, w := range f.warnings {
		if w.IsDue(now) {
			c := *w
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return append(out, f.staleExpiring...), nil
}

func (f *fakeStore) SetWarningStatus(_ context.Context, warnID string, status models.WarningStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setStatusErr != nil {
		return f.setStatusErr
	}
	if w, ok := f.warnings[warnID]; ok && w.Status.CanTransitionTo(status) {
		w.Status = status
	}
	return nil
}

func (f *fakeStore) cooldown(userID string) *models.Cooldown {
	f.mu.Lock()
	defer f.mu.Unlock()
	cd, ok := f.cooldowns[userID]
	if !ok {
		return nil
	}
	c := *cd
	return &c
}

func (f *fakeStore) warningStatus(id string) models.WarningStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.warnings[id].Status
}

type editCall struct {
	channelID string
	messageID string
	embeds    []platform.Embed
}

type fakePlatform struct {
	mu       sync.Mutex
	members  map[string]*platform.Member
	channel  *platform.Channel
	messages map[string]*platform.Message

	guildErr   error
	membersErr error
	memberErr  error
	channelErr error
	messageErr error
	removeErr  map[string]error
	addErr     map[string]error

	membersCalls int
	memberCalls  int
	removed      []string
	added        []string
	edits        []editCall
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		members:   make(map[string]*platform.Member),
		channel:   &platform.Channel{ID: warnChannel, Name: "warns", IsText: true},
		messages:  make(map[string]*platform.Message),
		removeErr: make(map[string]error),
		addErr:    make(map[string]error),
	}
}

func (f *fakePlatform) addMember(userID string, roles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[userID] = &platform.Member{UserID: userID, RoleIDs: roles}
}

func (f *fakePlatform) hasRole(userID, roleID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	return ok && slices.Contains(m.RoleIDs, roleID)
}

func (f *fakePlatform) Guild(_ context.Context, id string) (*platform.Guild, error) {
	if f.guildErr != nil {
		return nil, f.guildErr
	}
	return &platform.Guild{ID: id, Name: "PHX", OwnerID: "100000000000000999"}, nil
}

func (f *fakePlatform) Members(_ context.Context, _ string) ([]*platform.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.membersCalls++
	if f.membersErr != nil {
		return nil, f.membersErr
	}
	out := make([]*platform.Member, 0, len(f.members))
	for _, m := range f.members {
		c := *m
		c.RoleIDs = slices.Clone(m.RoleIDs)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (f *fakePlatform) Member(_ context.Context, _ string, userID string) (*platform.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberCalls++
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	m, ok := f.members[userID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	c := *m
	c.RoleIDs = slices.Clone(m.RoleIDs)
	return &c, nil
}

func (f *fakePlatform) AddRole(_ context.Context, _ string, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.addErr[userID]; err != nil {
		return err
	}
	m, ok := f.members[userID]
	if !ok {
		return platform.ErrNotFound
	}
	if !slices.Contains(m.RoleIDs, roleID) {
		m.RoleIDs = append(m.RoleIDs, roleID)
	}
	f.added = append(f.added, userID+":"+roleID)
	return nil
}

func (f *fakePlatform) RemoveRole(_ context.Context, _ string, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.removeErr[userID]; err != nil {
		return err
	}
	m, ok := f.members[userID]
	if !ok {
		return platform.ErrNotFound
	}
	m.RoleIDs = slices.DeleteFunc(m.RoleIDs, func(r string) bool { return r == roleID })
	f.removed = append(f.removed, userID+":"+roleID)
	return nil
}

func (f *fakePlatform) Channel(_ context.Context, channelID string) (*platform.Channel, error) {
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	if f.channel == nil || f.channel.ID != channelID {
		return nil, platform.ErrNotFound
	}
	c := *f.channel
	return &c, nil
}

func (f *fakePlatform) Message(_ context.Context, _ string, messageID string) (*platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messageErr != nil {
		return nil, f.messageErr
	}
	m, ok := f.messages[messageID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	c := *m
	c.Embeds = slices.Clone(m.Embeds)
	return &c, nil
}

func (f *fakePlatform) EditEmbeds(_ context.Context, channelID, messageID string, embeds []platform.Embed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editCall{channelID: channelID, messageID: messageID, embeds: embeds})
	if m, ok := f.messages[messageID]; ok {
		m.Embeds = slices.Clone(embeds)
	}
	return nil
}

type fakeLock struct {
	acquired bool
	err      error
	released int
}

func (l *fakeLock) Acquire(_ context.Context, _ time.Duration) (func(context.Context) error, bool, error) {
	if l.err != nil || !l.acquired {
		return nil, false, l.err
	}
	return func(context.Context) error {
		l.released++
		return nil
	}, true, nil
}
