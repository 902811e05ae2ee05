package keys

import (
	"errors"

	"github.com/mkserv/keyserv/internal/models"
	"github.com/mkserv/keyserv/internal/uid"
)

// Terminal, caller-visible failure kinds. None are retried internally;
// every kind maps to a distinct stable code so clients can branch on
// the reason.
var (
	// ErrNotFound means no key matches the presented token.
	ErrNotFound = errors.New("no key matches the supplied token")
	// ErrDisabled means the key's kill-switch is engaged.
	ErrDisabled = errors.New("key is disabled")
	// ErrExpired means the key is past its valid-until instant.
	ErrExpired = errors.New("key has expired")
	// ErrExhausted means the activation budget is spent.
	ErrExhausted = errors.New("no remaining activations")
	// ErrHardwareMismatch means the key is bound to different hardware.
	ErrHardwareMismatch = errors.New("key is bound to different hardware")
	// ErrDuplicateToken means a supplied token collides with an existing key.
	ErrDuplicateToken = errors.New("token already in use")
	// ErrAppNotFound means no application matches the given identifier.
	ErrAppNotFound = errors.New("no such application")
	// ErrDuplicateName means an application with that name already exists.
	ErrDuplicateName = errors.New("application name already in use")
)

// Code returns the stable wire code for a failure. Unrecognized errors
// map to "internal".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAppNotFound):
		return "not_found"
	case errors.Is(err, ErrDisabled):
		return "disabled"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrExhausted):
		return "exhausted"
	case errors.Is(err, ErrHardwareMismatch):
		return "hardware_mismatch"
	case errors.Is(err, ErrDuplicateToken):
		return "duplicate_token"
	case errors.Is(err, ErrDuplicateName):
		return "duplicate_name"
	case errors.Is(err, models.ErrBadExpiry):
		return "bad_expiry"
	case errors.Is(err, models.ErrBadRemaining), errors.Is(err, models.ErrEmptyName):
		return "invalid_request"
	case errors.Is(err, uid.ErrFormat):
		return "bad_id"
	case errors.Is(err, uid.ErrRange):
		return "id_space_exhausted"
	default:
		return "internal"
	}
}
