// Package id provides UUIDv7 generation for uuid-typed entity fields.
package id

import (
	"github.com/google/uuid"
)

// ID is a type alias for UUID.
type ID = uuid.UUID

// New generates a new UUIDv7 (time-ordered UUID).
func New() ID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// FromBytes converts the 16-byte form pgx returns for uuid columns.
func FromBytes(b [16]byte) ID {
	return uuid.UUID(b)
}
