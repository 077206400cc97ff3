package formula

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Supported digest algorithms.
const (
	AlgorithmSHA256 = "sha256"
	AlgorithmSHA512 = "sha512"
)

// hexLengths maps a hex digest length to the algorithm that produces it.
var hexLengths = map[int]string{
	64:  AlgorithmSHA256,
	128: AlgorithmSHA512,
}

// Checksum is the declared digest of a source archive.
// The algorithm is inferred from the digest length.
type Checksum struct {
	algorithm string
	hex       string
}

// ParseChecksum validates a hex digest, optionally prefixed "sha256:".
func ParseChecksum(s string) (Checksum, error) {
	value := strings.TrimSpace(s)
	if algo, digest, ok := strings.Cut(value, ":"); ok {
		if algo != AlgorithmSHA256 && algo != AlgorithmSHA512 {
			return Checksum{}, fmt.Errorf("unsupported checksum algorithm %q", algo)
		}
		value = digest
	}
	if value == "" {
		return Checksum{}, fmt.Errorf("checksum cannot be empty")
	}
	if _, err := hex.DecodeString(value); err != nil {
		return Checksum{}, fmt.Errorf("checksum is not hex encoded")
	}
	algorithm, ok := hexLengths[len(value)]
	if !ok {
		return Checksum{}, fmt.Errorf("checksum has %d hex chars, want 64 (sha256) or 128 (sha512)", len(value))
	}
	return Checksum{algorithm: algorithm, hex: strings.ToLower(value)}, nil
}

// Algorithm returns the digest algorithm name.
func (c Checksum) Algorithm() string {
	return c.algorithm
}

// Hex returns the lowercase hex digest.
func (c Checksum) Hex() string {
	return c.hex
}

// String returns "algorithm:hex".
func (c Checksum) String() string {
	return c.algorithm + ":" + c.hex
}

// IsZero reports whether the checksum is unset.
func (c Checksum) IsZero() bool {
	return c.hex == ""
}

// NewHash returns a fresh hash for the checksum's algorithm.
func (c Checksum) NewHash() hash.Hash {
	if c.algorithm == AlgorithmSHA512 {
		return sha512.New()
	}
	return sha256.New()
}

// Matches compares a computed hex digest, ignoring case.
func (c Checksum) Matches(actual string) bool {
	return c.hex != "" && strings.EqualFold(c.hex, strings.TrimSpace(actual))
}
