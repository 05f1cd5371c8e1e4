// Package domain holds the shared identifier types used across features.
//
// IDs are distinct uuid-backed types so the compiler rejects cross-type
// assignment (a UserID can never be passed where an ApplicationID is
// expected). Parsing happens once at trust boundaries; everything past the
// boundary works with typed values.
package domain

import (
	"github.com/google/uuid"

	dErrors "pawbase/pkg/domain-errors"
)

// UserID identifies an acting or owning user.
type UserID uuid.UUID

// ApplicationID identifies a custody-change application (adoption request,
// temporary-care booking, purchase order) that a handover is attached to.
type ApplicationID uuid.UUID

func (id UserID) String() string        { return uuid.UUID(id).String() }
func (id ApplicationID) String() string { return uuid.UUID(id).String() }

// MarshalText/UnmarshalText keep the uuid string form in JSON and cache
// payloads; a defined type does not inherit them from uuid.UUID.

func (id UserID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *UserID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = UserID(u)
	return nil
}

func (id ApplicationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ApplicationID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = ApplicationID(u)
	return nil
}

// IsNil reports whether the ID is the zero UUID. A nil UserID models
// "no owner" (pet in hospital, deceased, or unowned transit).
func (id UserID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id ApplicationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParseUserID parses and validates a user ID from its string form.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user id")
	return UserID(u), err
}

// ParseApplicationID parses and validates an application ID from its string form.
func ParseApplicationID(s string) (ApplicationID, error) {
	u, err := parseUUID(s, "application id")
	return ApplicationID(u), err
}

// parseUUID rejects empty strings, malformed UUIDs and the nil UUID. All ID
// parsing funnels through here so boundary rules stay in one place.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is required", label)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is not a valid uuid", label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must not be the nil uuid", label)
	}
	return u, nil
}
