package rotation

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// 32 bytes of entropy, enough that values never collide in practice
const tokenBytesLen = 32

// Generator produces opaque refresh token values
type Generator interface {
	Generate() (string, error)
}

type randomGenerator struct{}

// NewGenerator returns the crypto/rand backed generator
func NewGenerator() Generator {
	return randomGenerator{}
}

// Generate returns a URL-safe value with no observable structure
// An exhausted random source is the only failure and it is not recoverable
func (randomGenerator) Generate() (string, error) {
	b := make([]byte, tokenBytesLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error while reading random source. Err: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
