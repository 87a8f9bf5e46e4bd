package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Host tokens authenticate the irrigation controller pushing station and
// option events. Only the SHA-256 of a token is kept in the config file.
const hostTokenPrefix = "pex_"

// GenerateHostToken creates a new token and the hash to configure.
// Format: pex_<uuid>_<random_secret>
func GenerateHostToken() (token, hash string, err error) {
	id := uuid.New()

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	token = fmt.Sprintf("%s%s_%s", hostTokenPrefix, id.String(), secret)
	return token, HashHostToken(token), nil
}

// HashHostToken hashes a host token for storage
func HashHostToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidHostTokenFormat checks if token has the generated shape.
func ValidHostTokenFormat(token string) bool {
	if len(token) != len(hostTokenPrefix)+36+1+64 {
		return false
	}
	if !strings.HasPrefix(token, hostTokenPrefix) {
		return false
	}
	_, err := uuid.Parse(token[len(hostTokenPrefix) : len(hostTokenPrefix)+36])
	return err == nil
}
