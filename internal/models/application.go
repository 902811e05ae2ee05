package models

import (
	"errors"
	"strings"
	"time"
)

// ErrEmptyName is returned when an application is registered without a name.
var ErrEmptyName = errors.New("application name must not be empty")

// Application owns a set of license keys. Its internal id is never shown
// outside the system; PublicID is stamped from the id right after the
// first insert and used everywhere at the boundary.
type Application struct {
	ID             int64     `json:"-"`
	PublicID       string    `json:"id"`
	Name           string    `json:"name"`
	SupportMessage string    `json:"support_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewApplication creates a new Application record. The name must be
// non-empty; uniqueness is enforced by the store.
func NewApplication(name, supportMessage string) (*Application, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	return &Application{
		Name:           name,
		SupportMessage: supportMessage,
		CreatedAt:      time.Now().UTC(),
	}, nil
}
