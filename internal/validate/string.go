// Package validate checks the free-form strings the API accepts from
// clients: path identifiers and door-code credentials.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// String validation errors
var (
	ErrStringTooShort    = errors.New("string is too short")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
	ErrEmpty             = errors.New("string is empty")
)

// Limits for the identifiers and credentials the API accepts.
const (
	MaxIdentifierLength = 128
	MaxCredentialLength = 64
)

var (
	// identifierPattern admits opaque ids such as "evt-1", UUIDs and
	// "ns:slug" forms while rejecting whitespace, slashes and control bytes.
	identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:\-]*$`)

	// credentialPattern admits printable ASCII. Door codes are compared
	// after normalisation, so spacing and dashes are tolerated here.
	credentialPattern = regexp.MustCompile(`^[\x20-\x7E]+$`)
)

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MinLength      int            // Minimum length in runes (0 = no minimum)
	MaxLength      int            // Maximum length in runes (0 = no maximum)
	AllowedPattern *regexp.Regexp // Optional pattern the whole string must match
	AllowEmpty     bool
	TrimSpace      bool
}

// String validates s against constraints and returns it, trimmed when
// TrimSpace is set.
func String(s string, constraints StringConstraints) (string, error) {
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}

	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	length := utf8.RuneCountInString(s)
	if constraints.MinLength > 0 && length < constraints.MinLength {
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, constraints.MinLength)
	}
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}
	if constraints.AllowedPattern != nil && !constraints.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}

	return s, nil
}

// Identifier validates an event or conversation id taken from a request path.
func Identifier(id string) (string, error) {
	return String(id, StringConstraints{
		MaxLength:      MaxIdentifierLength,
		AllowedPattern: identifierPattern,
		TrimSpace:      true,
	})
}

// Credential validates a door code or ticket credential presented at
// check-in. Matching against the stored door code happens later.
func Credential(c string) (string, error) {
	return String(c, StringConstraints{
		MaxLength:      MaxCredentialLength,
		AllowedPattern: credentialPattern,
		TrimSpace:      true,
	})
}
