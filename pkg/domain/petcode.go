package domain

import (
	"regexp"

	dErrors "pawbase/pkg/domain-errors"
)

// PetCode is the immutable business identifier for a physical animal. It is
// assigned once by the originating subsystem and shared across all
// subsystems; the registry never reissues or recycles a code.
type PetCode string

// petCodePattern matches three uppercase letters followed by five digits,
// e.g. "ABC12345".
var petCodePattern = regexp.MustCompile(`^[A-Z]{3}[0-9]{5}$`)

func (c PetCode) String() string { return string(c) }

// ParsePetCode validates the business-key format at trust boundaries.
func ParsePetCode(s string) (PetCode, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "petCode is required")
	}
	if !petCodePattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeValidation, "petCode must be 3 uppercase letters followed by 5 digits")
	}
	return PetCode(s), nil
}
