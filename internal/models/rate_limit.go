package models

import "time"

// RateLimitRule caps how often callers with a given scope role may perform an action.
type RateLimitRule struct {
	ScopeRole string        `json:"scope_role" yaml:"scope"`
	Action    string        `json:"action" yaml:"action"`
	MaxCount  int           `json:"max_count" yaml:"max_count"`
	Window    time.Duration `json:"window" yaml:"window"`
}

// NewRateLimitRule creates a new RateLimitRule.
func NewRateLimitRule(scopeRole, action string, maxCount int, window time.Duration) *RateLimitRule {
	return &RateLimitRule{
		ScopeRole: scopeRole,
		Action:    action,
		MaxCount:  maxCount,
		Window:    window,
	}
}

// IsValid reports whether the rule can be enforced.
func (r *RateLimitRule) IsValid() bool {
	return r.ScopeRole != "" && r.Action != "" && r.MaxCount > 0 && r.Window >= time.Second
}
