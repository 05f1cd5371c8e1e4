// Package email holds small helpers for addressing people we only know by
// their email address.
package email

import (
	"fmt"
	"strings"
	"unicode"
)

// Greeting builds a salutation line from a bare address, for notification
// bodies where no profile name is on record.
func Greeting(address string) string {
	first, last := DeriveNameFromEmail(address)
	if last == "User" {
		return fmt.Sprintf("Dear %s,", first)
	}
	return fmt.Sprintf("Dear %s %s,", first, last)
}

func DeriveNameFromEmail(email string) (string, string) {
	localPart := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		localPart = email[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	if len(parts) == 0 {
		return "User", "User"
	}

	first := capitalize(parts[0])
	last := "User"
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}

	return first, last
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
