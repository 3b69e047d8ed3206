package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
)

// LocalAPIKeyPrefix is the key under which the caller's display prefix is stored
const LocalAPIKeyPrefix = "api_key_prefix"

// APIKeyAuth guards the query and operator endpoints. Only SHA-256 hashes of the
// accepted keys are configured; any of them authorizes the request.
func APIKeyAuth(keyHashes ...string) fiber.Handler {
	hashes := make([]string, 0, len(keyHashes))
	for _, h := range keyHashes {
		if h = strings.TrimSpace(h); h != "" {
			hashes = append(hashes, h)
		}
	}

	return func(c *fiber.Ctx) error {
		apiKey := extractBearerToken(c)
		if apiKey == "" {
			return domain.ErrUnauthorized
		}

		for _, h := range hashes {
			if domain.MatchesHash(apiKey, h) {
				c.Locals(LocalAPIKeyPrefix, displayPrefix(apiKey))
				return c.Next()
			}
		}

		// Don't reveal whether the key format was valid
		return domain.ErrUnauthorized
	}
}

// extractBearerToken extracts token from Authorization header
func extractBearerToken(c *fiber.Ctx) string {
	auth := c.Get("Authorization")
	if auth == "" {
		return ""
	}

	// Expected format: "Bearer <token>"
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

func displayPrefix(key string) string {
	if len(key) <= 12 {
		return key[:min(len(key), 4)]
	}
	return key[:12]
}

// GetAPIKeyPrefix returns the authenticated caller's key prefix, for audit attribution.
func GetAPIKeyPrefix(c *fiber.Ctx) string {
	p, _ := c.Locals(LocalAPIKeyPrefix).(string)
	return p
}
