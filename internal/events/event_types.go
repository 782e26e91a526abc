package events

import (
	"time"

	"github.com/spec-kit/authgate/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserProvisioned  EventType = "user_provisioned"
	EventUserLinked       EventType = "user_linked"
	EventUserEmailUpdated EventType = "user_email_updated"
)

// Event represents a user lifecycle change emitted by the resolver.
type Event struct {
	ID        string              `json:"id"`
	Type      EventType           `json:"type"`
	UserID    string              `json:"user_id"`
	Source    domain.ClaimsSource `json:"source"`
	Timestamp time.Time           `json:"timestamp"`
	Payload   any                 `json:"payload"`
}

// UserProvisionedPayload payload.
type UserProvisionedPayload struct {
	Subject string `json:"subject"`
	Email   string `json:"email"`
}

// UserLinkedPayload payload.
type UserLinkedPayload struct {
	Subject         string  `json:"subject"`
	PreviousSubject *string `json:"previous_subject,omitempty"`
}

// UserEmailUpdatedPayload payload.
type UserEmailUpdatedPayload struct {
	OldEmail string `json:"old_email"`
	NewEmail string `json:"new_email"`
}
