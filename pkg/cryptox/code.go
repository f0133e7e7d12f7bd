package cryptox

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// DefaultCodeDigits is the length of email one-time codes.
const DefaultCodeDigits = 6

// GenerateNumericCode returns a random code of the given number of decimal
// digits, suitable for out-of-band delivery (email verification, login
// challenges). Leading zeros are kept so every code has the same length.
func GenerateNumericCode(digits int) (string, error) {
	if digits <= 0 {
		return "", fmt.Errorf("code digits must be positive, got %d", digits)
	}

	code := make([]byte, digits)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate random code: %w", err)
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}
