package checkin

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// PIN width bounds. The nametag UI accepts 4 to 6 digits.
const (
	MinPINDigits     = 4
	MaxPINDigits     = 6
	DefaultPINDigits = 4

	// DefaultMaxPINAttempts bounds regeneration after collisions.
	DefaultMaxPINAttempts = 10

	// DoorCodeLength is the length of codes issued at RSVP time.
	DoorCodeLength = 8
)

// doorCodeAlphabet omits characters that are easy to misread on a phone
// screen (0/O, 1/I/L).
const doorCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// ErrMalformedPIN is returned by ValidatePINFormat for input that is not a
// 4 to 6 digit string.
var ErrMalformedPIN = errors.New("pin must be 4 to 6 digits")

// PINGenerator draws candidate PINs. Implementations need not avoid
// collisions; uniqueness is enforced on insert.
type PINGenerator interface {
	NextPIN() (string, error)
}

// RandomPINGenerator draws fixed-width numeric PINs from crypto/rand.
type RandomPINGenerator struct {
	Digits int
}

// NextPIN returns a zero-padded random PIN of g.Digits digits.
func (g RandomPINGenerator) NextPIN() (string, error) {
	digits := g.Digits
	if digits < MinPINDigits || digits > MaxPINDigits {
		digits = DefaultPINDigits
	}

	space := big.NewInt(1)
	for i := 0; i < digits; i++ {
		space.Mul(space, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, space)
	if err != nil {
		return "", fmt.Errorf("draw pin: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

// NewDoorCode returns a random door code of DoorCodeLength characters.
func NewDoorCode() (string, error) {
	var b strings.Builder
	b.Grow(DoorCodeLength)
	alphabetLen := big.NewInt(int64(len(doorCodeAlphabet)))
	for i := 0; i < DoorCodeLength; i++ {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("draw door code: %w", err)
		}
		b.WriteByte(doorCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// ValidatePINFormat checks that pin is 4 to 6 ASCII digits.
func ValidatePINFormat(pin string) error {
	if len(pin) < MinPINDigits || len(pin) > MaxPINDigits {
		return ErrMalformedPIN
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return ErrMalformedPIN
		}
	}
	return nil
}

// normalizeCredential trims whitespace and upper-cases a door code so that
// "love2024 " and "LOVE2024" compare equal.
func normalizeCredential(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// credentialMatches compares a presented credential with the stored door code
// in constant time.
func credentialMatches(presented, doorCode string) bool {
	p := normalizeCredential(presented)
	d := normalizeCredential(doorCode)
	if p == "" || d == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(p), []byte(d)) == 1
}
