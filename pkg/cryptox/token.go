package cryptox

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// shortFingerprintLen is long enough to tell tokens apart in logs.
const shortFingerprintLen = 12

// FingerprintToken returns a deterministic SHA-256 fingerprint of a token.
// This is used to refer to tokens in logs and cache keys without exposing
// the original token value.
//
// The fingerprint is returned as a base64url-encoded string (43 chars).
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ShortFingerprint returns the leading characters of FingerprintToken, or ""
// for an empty token.
func ShortFingerprint(token string) string {
	if token == "" {
		return ""
	}
	return FingerprintToken(token)[:shortFingerprintLen]
}

// MaskSecret hides all but the last four characters of a secret. Secrets of
// eight characters or fewer are fully masked.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return strings.Repeat("*", 8)
	}
	return strings.Repeat("*", 8) + secret[len(secret)-4:]
}
