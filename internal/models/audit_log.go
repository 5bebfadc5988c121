package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action that was audited.
type AuditAction string

const (
	AuditActionMemberAdd      AuditAction = "member.add"
	AuditActionMemberRemove   AuditAction = "member.remove"
	AuditActionCooldownSet    AuditAction = "cooldown.set"
	AuditActionCooldownClear  AuditAction = "cooldown.clear"
	AuditActionWarningIssue   AuditAction = "warning.issue"
	AuditActionSettingsUpdate AuditAction = "settings.update"
	AuditActionRankChange     AuditAction = "member.rank"
	AuditActionOrgDelete      AuditAction = "organization.delete"
	AuditActionFactionAlert   AuditAction = "faction.alert"
)

// AuditLog represents a single audit log entry.
type AuditLog struct {
	ID             uuid.UUID       `json:"id"`
	Action         AuditAction     `json:"action"`
	ActorID        string          `json:"actor_id"`
	TargetID       string          `json:"target_id,omitempty"`
	OrganizationID string          `json:"organization_id,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewAuditLog creates a new AuditLog entry.
func NewAuditLog(action AuditAction, actorID string) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		Action:    action,
		ActorID:   actorID,
		CreatedAt: time.Now(),
	}
}

// WithTarget sets the user being acted upon.
func (a *AuditLog) WithTarget(targetID string) *AuditLog {
	a.TargetID = targetID
	return a
}

// WithOrganization sets the organization context.
func (a *AuditLog) WithOrganization(orgID string) *AuditLog {
	a.OrganizationID = orgID
	return a
}

// WithDetails attaches a JSON-encodable detail object. Encoding failures
// leave the details empty.
func (a *AuditLog) WithDetails(details any) *AuditLog {
	if raw, err := json.Marshal(details); err == nil {
		a.Details = raw
	}
	return a
}
