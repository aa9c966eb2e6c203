// Package security provides signature helpers for webhook verification.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ComputeHMAC returns the hex HMAC-SHA256 of message under secret.
func ComputeHMAC(message []byte, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks signature against the expected HMAC of message in
// constant time.
func VerifyHMAC(message []byte, secret []byte, signature string) bool {
	expected := ComputeHMAC(message, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// DeriveSecret hashes a provider API token into the signing secret some
// providers use for their webhook HMAC scheme.
func DeriveSecret(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}
