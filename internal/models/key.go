package models

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UnlimitedActivations is the remaining-budget value meaning the key can
// be activated any number of times.
const UnlimitedActivations = -1

// ErrBadExpiry is returned when an expiry spec is neither a day count nor
// a date in a supported layout.
var ErrBadExpiry = errors.New("unparseable expiry spec")

// ErrBadRemaining is returned when an activation budget is below -1.
var ErrBadRemaining = errors.New("remaining must be -1 (unlimited) or non-negative")

// KeyStatus is the derived display state of a key. It is computed from
// field combinations, never stored.
type KeyStatus string

const (
	// KeyStatusActive means the key is currently usable.
	KeyStatusActive KeyStatus = "active"
	// KeyStatusDisabled means the kill-switch is engaged.
	KeyStatusDisabled KeyStatus = "disabled"
	// KeyStatusExpired means the key is past its valid-until instant.
	KeyStatusExpired KeyStatus = "expired"
	// KeyStatusExhausted means the activation budget reached zero.
	KeyStatusExhausted KeyStatus = "exhausted"
)

// Key is one issued license key. The token is the credential clients
// present; it is unique and immutable. Remaining of -1 means unlimited.
// An empty hwid means the key is not yet bound to a machine.
type Key struct {
	ID               int64      `json:"-"`
	PublicID         string     `json:"id"`
	AppID            int64      `json:"-"`
	Token            string     `json:"token"`
	Remaining        int        `json:"remaining"`
	Enabled          bool       `json:"enabled"`
	HWID             string     `json:"hwid,omitempty"`
	Memo             string     `json:"memo,omitempty"`
	ValidUntil       time.Time  `json:"valid_until"`
	TotalActivations int        `json:"total_activations"`
	TotalChecks      int        `json:"total_checks"`
	LastActivationTS *time.Time `json:"last_activation_ts,omitempty"`
	LastActivationIP string     `json:"last_activation_ip,omitempty"`
	LastCheckTS      *time.Time `json:"last_check_ts,omitempty"`
	LastCheckIP      string     `json:"last_check_ip,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// NewKey creates a new Key for the given application. The expiry spec is
// either a bare day count or an absolute date (see ParseExpiry).
func NewKey(appID int64, token string, remaining int, expirySpec, hwid, memo string) (*Key, error) {
	if remaining < UnlimitedActivations {
		return nil, fmt.Errorf("%w: %d", ErrBadRemaining, remaining)
	}
	now := time.Now().UTC()
	validUntil, err := ParseExpiry(expirySpec, now)
	if err != nil {
		return nil, err
	}
	return &Key{
		AppID:      appID,
		Token:      token,
		Remaining:  remaining,
		Enabled:    true,
		HWID:       hwid,
		Memo:       memo,
		ValidUntil: validUntil,
		CreatedAt:  now,
	}, nil
}

// Usable reports whether the key can currently be activated: enabled,
// not past valid-until, and with budget remaining. Activation at exactly
// the valid-until instant is still allowed.
func (k *Key) Usable(now time.Time) bool {
	if !k.Enabled || now.After(k.ValidUntil) {
		return false
	}
	return k.Remaining == UnlimitedActivations || k.Remaining > 0
}

// Status returns the derived state of the key for display. Disabled,
// expired and exhausted are independent axes; the first that applies wins.
func (k *Key) Status(now time.Time) KeyStatus {
	switch {
	case !k.Enabled:
		return KeyStatusDisabled
	case now.After(k.ValidUntil):
		return KeyStatusExpired
	case k.Remaining == 0:
		return KeyStatusExhausted
	default:
		return KeyStatusActive
	}
}

// ApplyActivation records a successful activation on the in-memory
// record: binds the hardware fingerprint on first use, consumes one unit
// of budget unless unlimited, and updates the counters and snapshots.
func (k *Key) ApplyActivation(hwid, ip string, now time.Time) {
	if k.HWID == "" {
		k.HWID = hwid
	}
	if k.Remaining != UnlimitedActivations {
		k.Remaining--
	}
	k.TotalActivations++
	ts := now
	k.LastActivationTS = &ts
	k.LastActivationIP = ip
}

// ApplyCheck records a validity check on the in-memory record. Checks
// never consume budget.
func (k *Key) ApplyCheck(ip string, now time.Time) {
	k.TotalChecks++
	ts := now
	k.LastCheckTS = &ts
	k.LastCheckIP = ip
}

// expiryLayouts are the accepted absolute date formats, tried in order.
// Anything else fails: ambiguous formats must not be guessed at.
var expiryLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseExpiry interprets an expiry spec: a string of only decimal digits
// is a number of days from now, anything else must match one of the
// supported absolute date layouts.
func ParseExpiry(spec string, now time.Time) (time.Time, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return time.Time{}, fmt.Errorf("%w: empty spec", ErrBadExpiry)
	}
	if isDigits(spec) {
		days := 0
		for _, c := range spec {
			days = days*10 + int(c-'0')
			if days > 365*1000 {
				return time.Time{}, fmt.Errorf("%w: day count %q too large", ErrBadExpiry, spec)
			}
		}
		return now.AddDate(0, 0, days), nil
	}
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, spec); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadExpiry, spec)
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// GenerateToken produces a random license token in XXXX-XXXX-XXXX-XXXX
// hex-group form.
func GenerateToken() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	h := hex.EncodeToString(b)
	return h[0:4] + "-" + h[4:8] + "-" + h[8:12] + "-" + h[12:16], nil
}

func (k *Key) String() string {
	return fmt.Sprintf("<Key(%s) valid until %s>", k.Token, k.ValidUntil.Format(time.RFC3339))
}
