package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// Sign returns the "sha256=<hex>" HMAC of payload under secret.
func Sign(secret []byte, payload []byte) string {
	return signaturePrefix + hex.EncodeToString(computeMAC(secret, payload))
}

// Verify checks signatureHeader against the HMAC-SHA256 of the exact raw body.
// The header may be "sha256=<hex>" or bare hex. It fails closed: an empty secret,
// an empty header or a header that does not decode never verifies.
func Verify(rawBody []byte, signatureHeader string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}

	sig := strings.TrimSpace(signatureHeader)
	if len(sig) >= len(signaturePrefix) && strings.EqualFold(sig[:len(signaturePrefix)], signaturePrefix) {
		sig = sig[len(signaturePrefix):]
	}
	if sig == "" {
		return false
	}

	provided, err := hex.DecodeString(sig)
	if err != nil || len(provided) != sha256.Size {
		return false
	}

	return hmac.Equal(provided, computeMAC(secret, rawBody))
}

func computeMAC(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
