package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/XpNow/PHX-Bot/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRules struct {
	rules map[string]*models.RateLimitRule
	err   error
}

func (m *mockRules) GetRateLimit(_ context.Context, scopeRole, action string) (*models.RateLimitRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.rules[scopeRole+"/"+action], nil
}

func newMockRules() *mockRules {
	return &mockRules{rules: map[string]*models.RateLimitRule{
		"LEADER/warning.issue": models.NewRateLimitRule("LEADER", "warning.issue", 2, time.Minute),
		"ADMIN/member.add":     models.NewRateLimitRule("ADMIN", "member.add", 0, time.Minute),
	}}
}

func exerciseLimiter(t *testing.T, l *Limiter) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "LEADER", "warning.issue", "100000000000000001")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "attempt %d", i+1)
		assert.Equal(t, int64(2), res.Limit)
	}

	res, err := l.Allow(ctx, "LEADER", "warning.issue", "100000000000000001")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
	assert.True(t, res.ResetAt.After(time.Now().Add(-time.Second)))

	// Counters are per user.
	res, err = l.Allow(ctx, "LEADER", "warning.issue", "100000000000000002")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiter(t *testing.T) {
	exerciseLimiter(t, NewMemory(newMockRules(), zerolog.Nop()))
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := NewRedis(newMockRules(), client, zerolog.Nop())
	require.NoError(t, err)
	exerciseLimiter(t, l)

	assert.True(t, mr.Exists(DefaultPrefix+":"+Key("LEADER", "warning.issue", "100000000000000001")))
}

func TestUnlimitedActions(t *testing.T) {
	l := NewMemory(newMockRules(), zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := l.Allow(ctx, "MEMBER", "warning.issue", "100000000000000001")
		require.NoError(t, err)
		assert.True(t, res.Allowed)

		// A rule with a zero max count cannot be enforced and is ignored.
		res, err = l.Allow(ctx, "ADMIN", "member.add", "100000000000000001")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
}

func TestRuleLookupError(t *testing.T) {
	rules := newMockRules()
	rules.err = errors.New("connection refused")
	l := NewMemory(rules, zerolog.Nop())

	_, err := l.Allow(context.Background(), "LEADER", "warning.issue", "100000000000000001")
	assert.Error(t, err)
}
