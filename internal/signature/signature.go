// Package signature verifies that webhook deliveries were signed by the
// messaging platform with the shared channel secret.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Header is the request header carrying the base64 HMAC-SHA256 of the body.
const Header = "X-Line-Signature"

// Verify reports whether header is the base64-encoded HMAC-SHA256 of body
// keyed by secret. The body is only hashed, never parsed.
func Verify(body []byte, header, secret string) bool {
	if secret == "" {
		return false
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return false
	}
	return hmac.Equal(Sign(body, secret), want)
}

// Sign returns the raw HMAC-SHA256 of body keyed by secret.
func Sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// Encode returns the header value for body, as the platform would send it.
func Encode(body []byte, secret string) string {
	return base64.StdEncoding.EncodeToString(Sign(body, secret))
}
