package utils

import (
	"encoding/hex"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
)

// NewDigest returns an unkeyed BLAKE2b-256 hash for content fingerprints.
func NewDigest() hash.Hash {
	h, _ := blake2b.New256(nil) // only fails for oversized keys
	return h
}

// HexDigest returns the hex fingerprint accumulated in h.
func HexDigest(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// DigestReader fingerprints everything read from r.
func DigestReader(r io.Reader) (string, error) {
	h := NewDigest()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return HexDigest(h), nil
}
