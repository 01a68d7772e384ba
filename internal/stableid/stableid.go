// Package stableid derives deterministic, content-based identifiers for
// newsletter items so the same story keeps the same identity across runs,
// processes and re-extractions.
package stableid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const prefix = "newsletter:"

// Normalize trims, lowercases, applies Unicode NFC and collapses internal
// whitespace runs to single spaces. Empty input yields the empty string.
// Normalize is idempotent.
func Normalize(s string) string {
	s = norm.NFC.String(strings.ToLower(strings.TrimSpace(s)))
	return strings.Join(strings.Fields(s), " ")
}

// Generate returns the stable identifier for an item, computed from the
// normalized title and date: "newsletter:" followed by the first 16 hex
// characters of sha256("{title}:{date}"). Pure function, no failure mode.
func Generate(title, date string) string {
	sum := sha256.Sum256([]byte(Normalize(title) + ":" + Normalize(date)))
	return prefix + hex.EncodeToString(sum[:])[:16]
}
