package uuidv7

import (
	"errors"

	"github.com/google/uuid"
)

// New returns a UUIDv7 (RFC 9562): millisecond timestamp prefix, so ids sort by creation time.
func New() (uuid.UUID, error) {
	return uuid.NewV7()
}

// NewString returns UUIDv7 string.
func NewString() (string, error) {
	u, err := New()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Generator adapts NewString to the id-generator hooks services accept.
func Generator() func() (string, error) {
	return NewString
}

var ErrNotV7 = errors.New("uuidv7: not a version 7 uuid")

// Parse accepts only v7 ids.
func Parse(s string) (uuid.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, err
	}
	if u.Version() != 7 {
		return uuid.Nil, ErrNotV7
	}
	return u, nil
}
