package tunnel

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// Key is a Curve25519 key as used by WireGuard.
type Key [32]byte

// ParseKey decodes a base64 WireGuard key. name identifies the key in errors.
func ParseKey(name, s string) (Key, error) {
	var k Key
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("failed to parse %s: got %d bytes, want %d", name, len(b), len(k))
	}
	copy(k[:], b)
	return k, nil
}

// String returns the base64 form.
func (k Key) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// Hex returns the form used by the device configuration protocol.
func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}

// PublicKey derives the public key for a private key.
func (k Key) PublicKey() (Key, error) {
	var pub Key
	b, err := curve25519.X25519(k[:], curve25519.Basepoint)
	if err != nil {
		return pub, fmt.Errorf("derive public key: %w", err)
	}
	copy(pub[:], b)
	return pub, nil
}
