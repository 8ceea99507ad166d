package usecase

import (
	"crypto/rand"
	"io"
)

// generateToken creates a random invite token that fits a Telegram /start payload.
// The alphabet avoids ambiguous characters like O/0, I/1, l and is 32 symbols wide,
// so byte-modulo selection stays unbiased.
func generateToken() (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	const tokenLength = 24

	buffer := make([]byte, tokenLength)
	if _, err := io.ReadFull(rand.Reader, buffer); err != nil {
		return "", err
	}

	for i := 0; i < tokenLength; i++ {
		buffer[i] = chars[int(buffer[i])%len(chars)]
	}
	return string(buffer), nil
}
