// Package id provides unique identifier generation for jobs and sessions.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// Prefixes used for generated identifiers.
const (
	JobPrefix     = "job"
	SessionPrefix = "ses"
)

// New returns "<prefix>-<uuid>". An empty prefix yields a bare UUID.
func New(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "-" + uuid.NewString()
}

// Generate creates a new unique job ID.
// Example: job-0b8f6c1e-4c1d-4c56-9d0b-5b1c2f9e7a41
func Generate() string {
	return New(JobPrefix)
}

// Session creates a new unique picker session ID.
func Session() string {
	return New(SessionPrefix)
}

// HasPrefix reports whether s looks like an ID generated with prefix.
func HasPrefix(s, prefix string) bool {
	rest, ok := strings.CutPrefix(s, prefix+"-")
	if !ok {
		return false
	}
	return uuid.Validate(rest) == nil
}
