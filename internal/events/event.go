// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"client_portal_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Lead Sync Domain Events
// =============================================================================

// LeadSyncCompleted is published when a reconciliation run finishes, whatever its outcome.
type LeadSyncCompleted struct {
	BaseEvent
	ClientID        uuid.UUID `json:"clientId"`
	Mode            string    `json:"mode"`
	Status          string    `json:"status"`
	TotalFetched    int       `json:"totalFetched"`
	TotalCreated    int       `json:"totalCreated"`
	TotalUpdated    int       `json:"totalUpdated"`
	TotalEnriched   int       `json:"totalEnriched"`
	Errors          int       `json:"errors"`
	DurationSeconds float64   `json:"durationSeconds"`
}

func (e LeadSyncCompleted) EventName() string { return "leads.sync.completed" }

// =============================================================================
// Leads Domain Events
// =============================================================================

// LeadUpdated is published after a manual edit has been persisted.
type LeadUpdated struct {
	BaseEvent
	LeadID        uuid.UUID  `json:"leadId"`
	ClientID      uuid.UUID  `json:"clientId"`
	ActorID       uuid.UUID  `json:"actorId"`
	ChangedFields []string   `json:"changedFields"`
	ClaimedBy     *uuid.UUID `json:"claimedBy,omitempty"`
}

func (e LeadUpdated) EventName() string { return "leads.lead.updated" }
