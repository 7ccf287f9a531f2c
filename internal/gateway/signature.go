// Package gateway contains the HTTP clients for the supported payment
// providers. Both speak JSON over POST and sign webhooks with hex-encoded
// HMAC-SHA256 over the raw payload bytes.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// sign computes the hex HMAC-SHA256 of payload under secret.
func sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks signature against the expected HMAC of payload.
// Comparison is constant-time to avoid timing side-channels.
func verifySignature(secret, payload []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), got)
}
