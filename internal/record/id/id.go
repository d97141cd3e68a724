// Package id provides unique identifier generation for media records.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// Prefix marks media record identifiers.
const Prefix = "med_"

// Generate creates a new unique media record ID.
// Format: med_<uuid without dashes>
// Example: med_3f2b8c1d9e0a4b7c8d6e5f4a3b2c1d0e
func Generate() string {
	return Prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether s looks like an identifier produced by Generate.
func Valid(s string) bool {
	rest, ok := strings.CutPrefix(s, Prefix)
	if !ok || len(rest) != 32 {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
