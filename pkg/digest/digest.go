// Package digest provides salted one-way fingerprinting for sensitive strings
// (client addresses, API keys, user agents) so audit rows never carry a raw
// identifier.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
)

// Null is the distinguished digest of an absent input. It is never produced
// by hashing any string — Of("") yields a real 64-hex digest — so a Null in
// a column unambiguously means "no value was supplied", while the hash of
// the empty string means "an empty value was supplied".
const Null = ""

// Hasher computes salted SHA-256 digests under a single deployment-wide salt.
// The salt makes digests deployment-local: the same input hashed under two
// different salts yields unrelated output, so digests are not comparable
// across deployments.
type Hasher struct {
	salt []byte
}

// New builds a Hasher from a deployment salt. An empty salt is accepted (the
// digest degrades to an unsalted SHA-256) but callers should always supply
// one in production.
func New(salt []byte) Hasher {
	cp := make([]byte, len(salt))
	copy(cp, salt)
	return Hasher{salt: cp}
}

// Of returns the 64-hex-char digest of s. The empty string hashes like any
// other input; callers representing absence use OfOptional or Null.
func (h Hasher) Of(s string) string {
	return h.OfBytes([]byte(s))
}

// OfOptional returns Null when s is absent (empty), Of(s) otherwise. This is
// the right call for fields a request may simply not carry, like an API key.
func (h Hasher) OfOptional(s string) string {
	if s == "" {
		return Null
	}
	return h.Of(s)
}

// OfBytes returns the 64-hex-char digest of b.
func (h Hasher) OfBytes(b []byte) string {
	sum := sha256.New()
	if len(h.salt) > 0 {
		_, _ = sum.Write(h.salt)
	}
	_, _ = sum.Write(b)
	return hex.EncodeToString(sum.Sum(nil))
}
