// Package hashutil computes the deduplication fingerprint used to enforce
// content-based dedup on a queue (invariant I5).
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint hashes the triple (content type, content encoding, payload)
// into a fixed-length hex string. It is a pure function: the same inputs
// always yield the same output, independent of any stored state.
func Fingerprint(contentType, contentEncoding string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(contentType))
	h.Write([]byte{0})
	h.Write([]byte(contentEncoding))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
