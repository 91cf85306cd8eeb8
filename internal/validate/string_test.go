package validate

import (
	"errors"
	"regexp"
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		constraints StringConstraints
		wantErr     error
		wantOutput  string
	}{
		{
			name:        "valid string within length constraints",
			input:       "  Hello World ",
			constraints: StringConstraints{MinLength: 5, MaxLength: 20, TrimSpace: true},
			wantOutput:  "Hello World",
		},
		{
			name:        "string too short",
			input:       "Hi",
			constraints: StringConstraints{MinLength: 5},
			wantErr:     ErrStringTooShort,
		},
		{
			name:        "string too long",
			input:       strings.Repeat("a", 101),
			constraints: StringConstraints{MaxLength: 100},
			wantErr:     ErrStringTooLong,
		},
		{
			name:        "length counts runes not bytes",
			input:       "ñññ",
			constraints: StringConstraints{MaxLength: 3},
			wantOutput:  "ñññ",
		},
		{
			name:    "empty string not allowed",
			input:   "",
			wantErr: ErrEmpty,
		},
		{
			name:        "whitespace only is empty after trim",
			input:       "   ",
			constraints: StringConstraints{TrimSpace: true},
			wantErr:     ErrEmpty,
		},
		{
			name:        "empty string allowed",
			input:       "",
			constraints: StringConstraints{AllowEmpty: true},
			wantOutput:  "",
		},
		{
			name:        "pattern mismatch",
			input:       "abc123",
			constraints: StringConstraints{AllowedPattern: regexp.MustCompile(`^[a-z]+$`)},
			wantErr:     ErrInvalidCharacters,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := String(tt.input, tt.constraints)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("String() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("String() unexpected error = %v", err)
			}
			if got != tt.wantOutput {
				t.Errorf("String() = %q, want %q", got, tt.wantOutput)
			}
		})
	}
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr error
	}{
		{"evt-1", "evt-1", nil},
		{" launch-party ", "launch-party", nil},
		{"5f0c7a52-8d5e-4c1b-9a55-3f2f7d1c0b9e", "5f0c7a52-8d5e-4c1b-9a55-3f2f7d1c0b9e", nil},
		{"city:berlin.2026", "city:berlin.2026", nil},
		{"", "", ErrEmpty},
		{"-leading-dash", "", ErrInvalidCharacters},
		{"has space", "", ErrInvalidCharacters},
		{"a/b", "", ErrInvalidCharacters},
		{"evt\x00", "", ErrInvalidCharacters},
		{strings.Repeat("e", MaxIdentifierLength+1), "", ErrStringTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Identifier(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Identifier(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Identifier(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCredential(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"door code", "K7QX-M2PD", nil},
		{"door code with spaces", " k7qx m2pd ", nil},
		{"empty", "  ", ErrEmpty},
		{"non ascii", "K7QX·M2PD", ErrInvalidCharacters},
		{"newline", "K7QX\nM2PD", ErrInvalidCharacters},
		{"too long", strings.Repeat("A", MaxCredentialLength+1), ErrStringTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Credential(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Credential(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
