// Package uuid provides UUID v4 generation and validation utilities.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// New generates a new UUID v4 string.
func New() string {
	return uuid.New().String()
}

// Validate returns an error if the string is not a valid UUID v4.
func Validate(s string) error {
	id, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid UUID: %w", err)
	}
	if id.Version() != 4 {
		return fmt.Errorf("expected UUID v4, got v%d", id.Version())
	}
	return nil
}

// IsValid checks if a string is a valid UUID v4.
func IsValid(s string) bool {
	return Validate(s) == nil
}
