package models

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// WarningStatus is the lifecycle state of a warning.
type WarningStatus string

const (
	// WarningStatusActive is a warning that still counts against its organization.
	WarningStatusActive WarningStatus = "ACTIVE"
	// WarningStatusExpired is terminal.
	WarningStatusExpired WarningStatus = "EXPIRED"
)

// ErrInvalidStatusTransition is returned when a warning would move backwards.
var ErrInvalidStatusTransition = errors.New("invalid warning status transition")

// CanTransitionTo reports whether moving from s to next is allowed.
// Status only moves forward: ACTIVE to EXPIRED.
func (s WarningStatus) CanTransitionTo(next WarningStatus) bool {
	return s == next || (s == WarningStatusActive && next == WarningStatusExpired)
}

// NewWarnID generates an identifier of the form MW-<year>-<6 digits>, using
// the UTC year.
func NewWarnID(now time.Time) string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		n = big.NewInt(now.UnixNano() % 1000000)
	}
	return fmt.Sprintf("MW-%d-%06d", now.UTC().Year(), n.Int64())
}

// WarningPayload is the content shown in the posted warning message.
type WarningPayload struct {
	Reason     string `json:"reason"`
	Sanction   string `json:"sanction,omitempty"`
	TargetName string `json:"target_name,omitempty"`
}

// Warning is an organization-level warning posted to the warnings channel.
type Warning struct {
	ID             string          `json:"warn_id"`
	OrganizationID string          `json:"organization_id"`
	MessageID      string          `json:"message_id,omitempty"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	Status         WarningStatus   `json:"status"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// NewWarning creates an ACTIVE warning. A zero ttl means the warning never expires.
func NewWarning(orgID, createdBy string, payload WarningPayload, ttl time.Duration, now time.Time) (*Warning, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal warning payload: %w", err)
	}
	w := &Warning{
		ID:             NewWarnID(now),
		OrganizationID: orgID,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		Status:         WarningStatusActive,
		Payload:        raw,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		w.ExpiresAt = &expires
	}
	return w, nil
}

// IsDue reports whether an active warning has reached its expiry.
func (w *Warning) IsDue(now time.Time) bool {
	return w.Status == WarningStatusActive && w.ExpiresAt != nil && !w.ExpiresAt.After(now)
}

// DecodePayload unmarshals the stored payload.
func (w *Warning) DecodePayload() (WarningPayload, error) {
	var p WarningPayload
	if len(w.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(w.Payload, &p); err != nil {
		return p, fmt.Errorf("decode warning payload: %w", err)
	}
	return p, nil
}
