// Package genesis derives the chain-origin digest that binds a session log
// to one (shared secret, student id) pair.
//
// The digest seeds the first link of the hash chain and is recomputed during
// verification, so a log produced under one pair cannot be presented as
// belonging to another without breaking the chain.
package genesis

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

var (
	ErrMissingSecret    = errors.New("genesis: missing shared secret")
	ErrMissingStudentID = errors.New("genesis: missing student id")
)

// Derive computes the genesis hash: SHA-256 over the base64 encoding of
// "secret:studentID", as a lowercase hex digest. Deterministic and one-way.
func Derive(secret, studentID string) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	if studentID == "" {
		return "", ErrMissingStudentID
	}

	combined := base64.StdEncoding.EncodeToString([]byte(secret + ":" + studentID))
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:]), nil
}

// Validate reports whether stored reproduces from the given inputs.
// Fails closed: a derivation error counts as a mismatch.
func Validate(stored, secret, studentID string) bool {
	expected, err := Derive(secret, studentID)
	if err != nil {
		return false
	}
	return stored == expected
}
