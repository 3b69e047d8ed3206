package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
)

// Environment constants
const (
	EnvTest = "test"
	EnvLive = "live"
)

const (
	apiKeyPrefix = "idv"
	apiKeyLength = 32
	base62Chars  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

var validEnvironments = map[string]bool{
	EnvTest: true,
	EnvLive: true,
}

// GenerateAPIKey creates a query API key for the status/operator endpoints.
// Returns (plainKey, hash, displayPrefix). Only the hash is configured on the server.
// Format: idv_<env>_<random32>
func GenerateAPIKey(env string) (string, string, string, error) {
	if !validEnvironments[env] {
		return "", "", "", errors.New("invalid environment: must be 'test' or 'live'")
	}

	randomPart, err := generateSecureRandomString(apiKeyLength)
	if err != nil {
		return "", "", "", err
	}

	plainKey := apiKeyPrefix + "_" + env + "_" + randomPart
	hash := HashAPIKey(plainKey)

	// idv_live_A1b2C3
	keyPrefix := plainKey[:len(apiKeyPrefix)+len(env)+8]

	return plainKey, hash, keyPrefix, nil
}

// HashAPIKey returns the hex SHA256 of an API key
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// MatchesHash compares a presented key against a configured hash in constant time.
func MatchesHash(key, expectedHash string) bool {
	if key == "" || expectedHash == "" {
		return false
	}
	got := HashAPIKey(key)
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(expectedHash))) == 1
}

// IsValidFormat checks idv_<env>_<random32>
func IsValidFormat(key string) bool {
	parts := strings.SplitN(key, "_", 3)
	if len(parts) != 3 {
		return false
	}

	if parts[0] != apiKeyPrefix {
		return false
	}

	if !validEnvironments[parts[1]] {
		return false
	}

	randomPart := parts[2]
	if len(randomPart) != apiKeyLength {
		return false
	}

	for _, char := range randomPart {
		if !strings.ContainsRune(base62Chars, char) {
			return false
		}
	}

	return true
}

func generateSecureRandomString(length int) (string, error) {
	result := make([]byte, length)
	base62Len := big.NewInt(int64(len(base62Chars)))

	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, base62Len)
		if err != nil {
			return "", err
		}
		result[i] = base62Chars[num.Int64()]
	}

	return string(result), nil
}
