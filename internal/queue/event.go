// Package queue carries auth/session audit events over RabbitMQ. The
// publisher is used by the auth service; the consumer runs in the server
// process and appends every event to a log file.
package queue

import (
	"context"
	"fmt"
	"time"
)

// Session event types.
const (
	EventUserRegistered   = "user.registered"
	EventSessionLogin     = "session.login"
	EventSessionRefreshed = "session.refreshed"
	EventSessionLogout    = "session.logout"
	EventUserDeleted      = "user.deleted"
)

// SessionEvent is published whenever a user's credentials or sessions
// change. It carries enough for downstream consumers to audit without
// querying the primary database; it never carries token material.
type SessionEvent struct {
	Type       string `json:"type"`
	UserID     string `json:"user_id"`
	Email      string `json:"email,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// NewSessionEvent stamps an event with the current UTC time.
func NewSessionEvent(typ, userID, email string) SessionEvent {
	return SessionEvent{
		Type:       typ,
		UserID:     userID,
		Email:      email,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// LogLine renders the event as a single human-friendly line.
func (e SessionEvent) LogLine() string {
	email := e.Email
	if email == "" {
		email = "-"
	}
	return fmt.Sprintf("[%s] %s | user_id=%s | email=%s\n", e.OccurredAt, e.Type, e.UserID, email)
}

// Publisher is implemented by anything that can ship a SessionEvent.
type Publisher interface {
	Publish(ctx context.Context, ev SessionEvent) error
}

// NopPublisher discards events. It is used when EVENTS_ENABLED is false.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, SessionEvent) error { return nil }
