package models

import (
	"time"
)

// Event classifies an audit log entry. Values are stable: they are
// persisted as integers and must never be renumbered.
type Event int

const (
	EventInfo Event = iota
	EventWarn
	EventError
	EventAppActivation
	EventFailedActivation
	EventKeyModified
	EventKeyCreated
	EventKeyAccess
	EventAppCreated
	EventAppModified
)

var eventNames = map[Event]string{
	EventInfo:             "info",
	EventWarn:             "warn",
	EventError:            "error",
	EventAppActivation:    "app_activation",
	EventFailedActivation: "failed_activation",
	EventKeyModified:      "key_modified",
	EventKeyCreated:       "key_created",
	EventKeyAccess:        "key_access",
	EventAppCreated:       "app_created",
	EventAppModified:      "app_modified",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "unknown"
}

// EventFromName returns the Event for a stable name, or -1 if unknown.
func EventFromName(name string) Event {
	for e, n := range eventNames {
		if n == name {
			return e
		}
	}
	return Event(-1)
}

// AuditLog is one append-only journal entry. Entries reference the key
// and application they concern but never own them; both references are
// optional so that application-scoped events and failed lookups with no
// matching key can still be journaled. Entries are never mutated or
// deleted once written.
type AuditLog struct {
	ID        int64     `json:"-"`
	PublicID  string    `json:"id"`
	AppID     *int64    `json:"-"`
	KeyID     *int64    `json:"-"`
	Event     Event     `json:"event_type"`
	EventName string    `json:"event"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// NewKeyAuditLog creates an entry correlated to a key and its owning
// application.
func NewKeyAuditLog(key *Key, event Event, message string) *AuditLog {
	keyID := key.ID
	appID := key.AppID
	return &AuditLog{
		AppID:     &appID,
		KeyID:     &keyID,
		Event:     event,
		EventName: event.String(),
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

// NewAppAuditLog creates an entry correlated to an application only.
func NewAppAuditLog(app *Application, event Event, message string) *AuditLog {
	appID := app.ID
	return &AuditLog{
		AppID:     &appID,
		Event:     event,
		EventName: event.String(),
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

// NewSystemAuditLog creates an entry with no key or application
// reference, used when a presented token matches nothing.
func NewSystemAuditLog(event Event, message string) *AuditLog {
	return &AuditLog{
		Event:     event,
		EventName: event.String(),
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}
