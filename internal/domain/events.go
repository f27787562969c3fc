package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventLeadCreatedSelf   EventKind = "lead_created_self"
	EventLeadCreatedGroup  EventKind = "lead_created_group"
	EventLeadAccepted      EventKind = "lead_accepted"
	EventLeadClosed        EventKind = "lead_closed"
	EventFieldChanged      EventKind = "field_changed"
	EventContractRequested EventKind = "contract_requested"
	EventDocumentReady     EventKind = "document_ready"
)

func ParseEventKind(s string) (EventKind, bool) {
	switch k := EventKind(s); k {
	case EventLeadCreatedSelf, EventLeadCreatedGroup, EventLeadAccepted, EventLeadClosed,
		EventFieldChanged, EventContractRequested, EventDocumentReady:
		return k, true
	}
	return "", false
}

// Event is a lead lifecycle notification. Only the fields relevant to Kind
// are populated.
type Event struct {
	ID         uuid.UUID   `json:"id"`
	Kind       EventKind   `json:"kind"`
	Lead       *Lead       `json:"lead"`
	Actor      *StaffUser  `json:"actor,omitempty"`
	Agent      *Agent      `json:"agent,omitempty"`
	Group      *AgentGroup `json:"group,omitempty"`
	Field      string      `json:"field,omitempty"`
	OldValue   string      `json:"old_value,omitempty"`
	NewValue   string      `json:"new_value,omitempty"`
	Document   string      `json:"document,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func NewEvent(kind EventKind, lead *Lead) Event {
	return Event{
		ID:         uuid.New(),
		Kind:       kind,
		Lead:       lead,
		OccurredAt: time.Now().UTC(),
	}
}
