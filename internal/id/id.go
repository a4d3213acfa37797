// Package id generates prefixed identifiers for stored entities.
package id

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the identifiers minted by the server.
const (
	PrefixUser          = "user"
	PrefixSession       = "sess"
	PrefixReview        = "rev"
	PrefixDetailSession = "dses"
	PrefixListSession   = "cses"
	PrefixSubscription  = "sub"
	PrefixClient        = "sse"
)

// Generate creates a prefixed unique ID using NanoID.
// Format: prefix-nanoid (e.g., "rev-V1StGXR8_Z5jdHi6B-myT").
//
// Returns an error if the system has insufficient entropy for secure random generation.
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// MustGenerate is like Generate but panics if ID generation fails.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}

// HasPrefix reports whether s was minted with the given prefix.
func HasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix+"-") && len(s) > len(prefix)+1
}
