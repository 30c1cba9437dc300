// Package cookiesign signs and verifies the session identifier carried in
// the browser cookie. The cookie value is the session ID with an appended
// HMAC-SHA256 signature, so tampering with either part is detectable.
package cookiesign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

const separator = "."

// Sign produces the cookie value for sessionID. Signing is deterministic:
// the same ID and secret always yield the same cookie value.
func Sign(sessionID, secret string) string {
	return sessionID + separator + signature(sessionID, secret)
}

// Unsign verifies a cookie value and extracts the session ID. It returns
// false for any value whose signature does not match the current secret;
// verification failure is an expected condition, not an error.
func Unsign(value, secret string) (string, bool) {
	idx := strings.LastIndex(value, separator)
	if idx <= 0 {
		return "", false
	}
	sessionID, sig := value[:idx], value[idx+1:]
	if !hmac.Equal([]byte(sig), []byte(signature(sessionID, secret))) {
		return "", false
	}
	return sessionID, true
}

func signature(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
