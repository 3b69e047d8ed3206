package middleware

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
)

func TestAPIKeyAuth(t *testing.T) {
	validAPIKey := "idv_test_abcdefghijklmnopqrstuvwxyz012345"
	rotatedKey := "idv_live_ZYXWVUTSRQPONMLKJIHGFEDCBA987654"

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectedPrefix string
	}{
		{
			name:           "valid API key",
			authHeader:     "Bearer " + validAPIKey,
			expectedStatus: 200,
			expectedPrefix: "idv_test_abc",
		},
		{
			name:           "second configured key",
			authHeader:     "bearer " + rotatedKey,
			expectedStatus: 200,
			expectedPrefix: "idv_live_ZYX",
		},
		{
			name:           "missing Authorization header",
			authHeader:     "",
			expectedStatus: 401,
		},
		{
			name:           "wrong scheme",
			authHeader:     "Basic " + validAPIKey,
			expectedStatus: 401,
		},
		{
			name:           "unknown key",
			authHeader:     "Bearer idv_test_nope",
			expectedStatus: 401,
		},
		{
			name:           "empty bearer token",
			authHeader:     "Bearer ",
			expectedStatus: 401,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New(fiber.Config{
				ErrorHandler: ErrorHandler(discardLogger()),
			})
			app.Use(APIKeyAuth(domain.HashAPIKey(validAPIKey), "  ", domain.HashAPIKey(rotatedKey)))
			app.Get("/test", func(c *fiber.Ctx) error {
				return c.SendString(GetAPIKeyPrefix(c))
			})

			req := httptest.NewRequest("GET", "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := app.Test(req)
			assert.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == 200 {
				body, _ := io.ReadAll(resp.Body)
				assert.Equal(t, tt.expectedPrefix, string(body))
			}
		})
	}
}

func TestAPIKeyAuth_NoKeysConfigured(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(discardLogger())})
	app.Use(APIKeyAuth())
	app.Get("/test", func(c *fiber.Ctx) error { return c.SendString("OK") })

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer anything")

	resp, err := app.Test(req)
	assert.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"BEARER  abc ", "abc"},
		{"Token abc", ""},
		{"Bearer", ""},
		{"", ""},
	}

	for _, tt := range tests {
		app := fiber.New()
		var got string
		app.Get("/", func(c *fiber.Ctx) error {
			got = extractBearerToken(c)
			return nil
		})
		req := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		_, err := app.Test(req)
		assert.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.header)
	}
}
