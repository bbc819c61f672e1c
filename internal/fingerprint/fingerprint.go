// Package fingerprint derives a stable content-addressed ID from a document
// locator. The same locator always yields the same fingerprint, which keys
// the persisted index and the build-once coordination.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// New returns the hex-encoded sha256 of the trimmed locator.
func New(locator string) string {
	normalized := strings.TrimSpace(locator)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
