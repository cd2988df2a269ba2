// Package hexid generates short random hex identifiers for spools.
package hexid

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns an 8-character lowercase hex string (4 random bytes).
func New() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("hexid: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

// NewPrefixed returns "<prefix>-<hex>" for harnesses that want a visible
// discriminator in the spool id, or a bare hex id when prefix is empty.
func NewPrefixed(prefix string) string {
	id := New()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
