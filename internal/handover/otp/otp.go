// Package otp generates and checks the short numeric codes that gate
// handover completion.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Length is the fixed code length. Codes are zero-padded ASCII digits.
const Length = 6

var max = big.NewInt(1_000_000)

// Generate returns a uniformly random 6-digit code from crypto/rand.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// ValidFormat reports whether code is exactly six ASCII digits.
func ValidFormat(code string) bool {
	if len(code) != Length {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
