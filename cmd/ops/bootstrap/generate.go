package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenByteLength gives 256 bits of entropy, hex-encoded to 64 characters.
const tokenByteLength = 32

// GenerateSecureToken returns a random hex token for internal shared secrets
// such as the service role key. Generated values are never displayed.
func GenerateSecureToken() (string, error) {
	buf := make([]byte, tokenByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secure token: crypto/rand failed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
