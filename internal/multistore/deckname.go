package multistore

import (
	"errors"
	"fmt"
	"regexp"
)

const (
	// MaxNameLength is the maximum length of a user or deck name.
	MaxNameLength = 128
	// DatabaseFile is the SQLite file inside a deck directory.
	DatabaseFile = "deck.db"
	// MetaFile is the metadata file inside a deck directory.
	MetaFile = "meta.yaml"
)

var (
	// ErrInvalidName indicates a user or deck name failed validation.
	ErrInvalidName = errors.New("invalid name")
	// ErrDeckNotFound indicates the requested deck does not exist.
	ErrDeckNotFound = errors.New("deck not found")
	// ErrDeckExists indicates a deck already exists during creation.
	ErrDeckExists = errors.New("deck already exists")
)

// userPattern: lowercase alphanumeric with inner dots, hyphens and underscores.
var userPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9._-]*[a-z0-9])?$`)

// deckPattern: alphanumeric with inner spaces, dots, hyphens and underscores.
var deckPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9 ._-]*[A-Za-z0-9])?$`)

// ValidateUser validates a username used as a directory name.
func ValidateUser(user string) error {
	return validate("user", user, userPattern)
}

// ValidateDeckName validates a deck name used as a directory name.
func ValidateDeckName(name string) error {
	return validate("deck", name, deckPattern)
}

func validate(what, value string, pattern *regexp.Regexp) error {
	if value == "" {
		return fmt.Errorf("%w: empty %s name", ErrInvalidName, what)
	}
	if len(value) > MaxNameLength {
		return fmt.Errorf("%w: %s name exceeds %d characters", ErrInvalidName, what, MaxNameLength)
	}
	if !pattern.MatchString(value) {
		return fmt.Errorf("%w: invalid %s name %q", ErrInvalidName, what, value)
	}
	return nil
}
