// Package ref validates externally supplied submission references.
// A reference is used in filesystem paths and database lookups, so anything
// outside the fixed alphabet is rejected outright rather than normalized.
package ref

import (
	"errors"
	"regexp"
)

var ErrInvalid = errors.New("invalid submission reference")

const (
	MinLen = 4
	MaxLen = 64
)

var pattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Sanitize returns the reference unchanged if it consists only of
// alphanumerics and hyphens within length bounds, ErrInvalid otherwise.
// It never truncates: a reference containing a path separator or control
// character must not survive as a shorter, valid-looking value.
func Sanitize(s string) (string, error) {
	if len(s) < MinLen || len(s) > MaxLen {
		return "", ErrInvalid
	}
	if !pattern.MatchString(s) {
		return "", ErrInvalid
	}
	return s, nil
}

// Valid reports whether s passes Sanitize.
func Valid(s string) bool {
	_, err := Sanitize(s)
	return err == nil
}
