package webhook

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign(t *testing.T) {
	tests := []struct {
		name    string
		secret  []byte
		payload []byte
	}{
		{
			name:    "simple payload",
			secret:  []byte("my-secret-key"),
			payload: []byte(`{"event_type":"created","subject_ref":"S1"}`),
		},
		{
			name:    "empty payload",
			secret:  []byte("my-secret-key"),
			payload: []byte{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signature := Sign(tt.secret, tt.payload)
			assert.True(t, strings.HasPrefix(signature, "sha256="))
			assert.Len(t, signature, len("sha256=")+64)

			isValid := Verify(tt.payload, signature, tt.secret)
			assert.True(t, isValid, "signature should be valid")
		})
	}
}

func TestVerify(t *testing.T) {
	secret := []byte("test-secret")
	payload := []byte(`{"test":"data"}`)
	validSignature := Sign(secret, payload)
	bareHex := strings.TrimPrefix(validSignature, "sha256=")

	tests := []struct {
		name      string
		secret    []byte
		payload   []byte
		signature string
		expected  bool
	}{
		{
			name:      "valid prefixed signature",
			secret:    secret,
			payload:   payload,
			signature: validSignature,
			expected:  true,
		},
		{
			name:      "valid bare hex signature",
			secret:    secret,
			payload:   payload,
			signature: bareHex,
			expected:  true,
		},
		{
			name:      "uppercase hex",
			secret:    secret,
			payload:   payload,
			signature: "SHA256=" + strings.ToUpper(bareHex),
			expected:  true,
		},
		{
			name:      "malformed hex",
			secret:    secret,
			payload:   payload,
			signature: "sha256=invalid",
			expected:  false,
		},
		{
			name:      "truncated digest",
			secret:    secret,
			payload:   payload,
			signature: bareHex[:32],
			expected:  false,
		},
		{
			name:      "missing header",
			secret:    secret,
			payload:   payload,
			signature: "",
			expected:  false,
		},
		{
			name:      "prefix only",
			secret:    secret,
			payload:   payload,
			signature: "sha256=",
			expected:  false,
		},
		{
			name:      "absent secret",
			secret:    nil,
			payload:   payload,
			signature: validSignature,
			expected:  false,
		},
		{
			name:      "wrong secret",
			secret:    []byte("wrong-secret"),
			payload:   payload,
			signature: validSignature,
			expected:  false,
		},
		{
			name:      "modified payload",
			secret:    secret,
			payload:   []byte(`{"test":"modified"}`),
			signature: validSignature,
			expected:  false,
		},
		{
			name:      "whitespace-altered payload",
			secret:    secret,
			payload:   []byte(`{"test": "data"}`),
			signature: validSignature,
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Verify(tt.payload, tt.signature, tt.secret)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestVerify_KnownVector(t *testing.T) {
	// RFC 4231 test case 2
	mac, _ := hex.DecodeString("5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843")
	assert.True(t, Verify([]byte("what do ya want for nothing?"), hex.EncodeToString(mac), []byte("Jefe")))
}
