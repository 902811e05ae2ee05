// Package uid implements the public identifier scheme: internal sequential
// row ids are exposed as UUID-shaped strings that carry the id in a
// disguised, exactly invertible form. The leading double-word of a random
// UUID is replaced with 2^31 minus the id, so holders of two identifiers
// cannot recover creation order or row counts, and no mapping table is
// needed to go back from the public form to the row.
package uid

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

const (
	// maxDoubleWord is the constant the internal id is subtracted from.
	// Ids must stay below it, which caps issuable rows per entity at 2^31.
	maxDoubleWord = int64(1) << 31

	// flagByte is the byte whose top bit marks an identifier as derived
	// from an internal id. It sits 8 hex digits from the end of the
	// canonical text form.
	flagByte = 12

	derivedFlag = 0x80
)

// ErrRange is returned when an internal id cannot be represented in the
// identifier's leading double-word.
var ErrRange = fmt.Errorf("internal id out of range [0, 2^31)")

// ErrFormat is returned for strings that are not well-formed identifiers.
var ErrFormat = fmt.Errorf("not a proper uuid")

// FromID derives a public identifier from an internal row id. The result
// looks like an ordinary random UUID but its leading 8 hex digits encode
// 2^31 - id and its flag bit is set.
func FromID(id int64) (uuid.UUID, error) {
	if id < 0 || id >= maxDoubleWord {
		return uuid.Nil, fmt.Errorf("%w: %d", ErrRange, id)
	}
	u := uuid.New()
	binary.BigEndian.PutUint32(u[:4], uint32(maxDoubleWord-id))
	u[flagByte] |= derivedFlag
	return u, nil
}

// ToID inverts FromID. It reads the leading 8 hex digits and subtracts
// them from 2^31; no flag verification is performed, callers that care
// about provenance must check IsDerived separately.
func ToID(s string) (int64, error) {
	if len(s) < 8 {
		return 0, fmt.Errorf("%w: %q", ErrFormat, s)
	}
	v, err := strconv.ParseUint(s[:8], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrFormat, s)
	}
	return maxDoubleWord - int64(v), nil
}

// IsDerived reports whether the identifier was produced by FromID rather
// than drawn at random.
func IsDerived(u uuid.UUID) bool {
	return u[flagByte]&derivedFlag != 0
}

// New returns a random identifier guaranteed to have the flag bit clear,
// for use where a public identifier is not tied to any row id. Roughly
// half of random draws collide with the flag and are redrawn.
func New() uuid.UUID {
	for {
		u := uuid.New()
		if u[flagByte]&derivedFlag == 0 {
			return u
		}
	}
}

// Parse parses a canonical 36-character dashed identifier string.
func Parse(s string) (uuid.UUID, error) {
	if len(s) != 36 || s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrFormat, s)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrFormat, s)
	}
	return u, nil
}

// FormatHex reformats a 32-hex-digit identifier into canonical dashed
// form. The output always parses back through Parse.
func FormatHex(hex32 string) (string, error) {
	if len(hex32) != 32 {
		return "", fmt.Errorf("%w: %q", ErrFormat, hex32)
	}
	if _, err := uuid.Parse(hex32); err != nil {
		return "", fmt.Errorf("%w: %q", ErrFormat, hex32)
	}
	return hex32[:8] + "-" + hex32[8:12] + "-" + hex32[12:16] + "-" + hex32[16:20] + "-" + hex32[20:], nil
}
