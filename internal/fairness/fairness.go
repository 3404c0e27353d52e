// Package fairness implements the commit-reveal scheme behind every roll:
// a server secret is committed with SHA-256 before the player's entropy is
// known, and the roll is HMAC-SHA256(secret, entropy) truncated to 16 bits.
package fairness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
)

const SecretSize = 32

// MaxRoll is the largest value Derive can return.
const MaxRoll = 65535

type Secret [SecretSize]byte

func (s Secret) Hex() string {
	return hex.EncodeToString(s[:])
}

func ParseSecret(h string) (Secret, error) {
	var s Secret
	b, err := hex.DecodeString(h)
	if err != nil {
		return s, fmt.Errorf("failed to decode secret: %w", err)
	}
	if len(b) != SecretSize {
		return s, fmt.Errorf("secret must be %d bytes, got %d", SecretSize, len(b))
	}
	copy(s[:], b)
	return s, nil
}

// NewSecret reads a fresh secret from crypto/rand. A failing system RNG is
// not recoverable, so it panics instead of handing out a weak secret.
func NewSecret() Secret {
	s, err := ReadSecret(rand.Reader)
	if err != nil {
		panic(fmt.Sprintf("fairness: system randomness unavailable: %v", err))
	}
	return s
}

func ReadSecret(r io.Reader) (Secret, error) {
	var s Secret
	if _, err := io.ReadFull(r, s[:]); err != nil {
		return s, err
	}
	return s, nil
}

// Commit returns the hex SHA-256 digest of the raw secret bytes.
func Commit(s Secret) string {
	sum := sha256.Sum256(s[:])
	return hex.EncodeToString(sum[:])
}

// Derive computes the roll for a secret and the player's entropy.
func Derive(s Secret, entropy string) uint16 {
	mac := hmac.New(sha256.New, s[:])
	mac.Write([]byte(entropy))
	return binary.BigEndian.Uint16(mac.Sum(nil)[:2])
}
