// Package notify carries workflow events to an outbound transport after commit.
package notify

import (
	"time"

	"safeworks.org/ptw/internal/ids"
)

// Kind names a workflow event.
type Kind string

const (
	ApprovalRequested  Kind = "approval_requested"
	PermitApproved     Kind = "permit_approved"
	PermitRejected     Kind = "permit_rejected"
	PermitActivated    Kind = "permit_activated"
	ExtensionRequested Kind = "extension_requested"
	ExtensionApproved  Kind = "extension_approved"
	ExtensionRejected  Kind = "extension_rejected"
	PermitSuspended    Kind = "permit_suspended"
	PermitResumed      Kind = "permit_resumed"
	PermitClosed       Kind = "permit_closed"
	PermitCancelled    Kind = "permit_cancelled"
)

// Event is one outbound notification. Recipients are approval roles or user ids rendered as strings.
type Event struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	PermitID   int64          `json:"permit_id"`
	Serial     string         `json:"serial"`
	Status     string         `json:"status"`
	ActorID    int64          `json:"actor_id"`
	Recipients []string       `json:"recipients,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEvent stamps an event with an id and the current time.
func NewEvent(kind Kind, permitID int64, serial, status string, actorID int64) Event {
	now := time.Now().UTC()
	return Event{
		ID:         ids.NewAt(now),
		Kind:       kind,
		PermitID:   permitID,
		Serial:     serial,
		Status:     status,
		ActorID:    actorID,
		OccurredAt: now,
	}
}
