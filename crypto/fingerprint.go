package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"
)

// Fingerprint is a short human-comparable digest of a derived session key.
// Both parties compute it independently; a mismatch signals a
// man-in-the-middle or stale-key condition.
type Fingerprint [8]byte

// SessionFingerprint computes the fingerprint of a session key bound to its
// conversation, so the same key in different conversations yields different
// fingerprints.
func SessionFingerprint(key [32]byte, conversationID string) Fingerprint {
	h := sha256.New()
	h.Write([]byte("sonet-session-fingerprint"))
	h.Write(key[:])
	h.Write([]byte(conversationID))
	sum := h.Sum(nil)

	var fp Fingerprint
	copy(fp[:], sum[:8])
	return fp
}

// Equal compares two fingerprints in constant time.
func (fp Fingerprint) Equal(other Fingerprint) bool {
	return subtle.ConstantTimeCompare(fp[:], other[:]) == 1
}

// String renders the fingerprint as four hex groups for manual comparison,
// e.g. "3fa2 91bc 04de 77a0".
func (fp Fingerprint) String() string {
	parts := make([]string, 0, 4)
	for i := 0; i < len(fp); i += 2 {
		parts = append(parts, fmt.Sprintf("%02x%02x", fp[i], fp[i+1]))
	}
	return strings.Join(parts, " ")
}
