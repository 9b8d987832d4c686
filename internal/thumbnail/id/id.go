// Package id provides unique identifier generation for thumbnail jobs.
package id

import "github.com/google/uuid"

// Prefix marks thumbnail job IDs.
const Prefix = "thumb-"

// Generate creates a new unique job ID.
// Format: thumb-<uuid>
// Example: thumb-0190f7a4-5c3e-7b1a-9d2e-3f4a5b6c7d8e
func Generate() string {
	u, err := uuid.NewV7()
	if err != nil {
		// Fallback to a random v4 if the v7 clock source fails
		u = uuid.New()
	}
	return Prefix + u.String()
}

// Valid reports whether s has the shape of a generated job ID.
func Valid(s string) bool {
	if len(s) <= len(Prefix) || s[:len(Prefix)] != Prefix {
		return false
	}
	_, err := uuid.Parse(s[len(Prefix):])
	return err == nil
}
