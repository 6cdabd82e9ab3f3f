package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// TokenLength длина непрозрачного токена устройства
const TokenLength = 36

// ValidateToken проверяет формат токена устройства
func ValidateToken(token string) error {
	if token == "" {
		return fmt.Errorf("token is required")
	}
	if len(token) != TokenLength {
		return fmt.Errorf("token must be exactly %d characters", TokenLength)
	}
	return nil
}

// HashToken возвращает SHA-256 хеш токена в hex. Токен в открытом виде
// никогда не сохраняется.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
