package exchange

import (
	"crypto/sha256"
	"encoding/hex"
)

// sign computes the double-SHA256 request signature the exchange's REST API
// requires: sha256(nonce+ts+apiKey) hex-encoded, concatenated with secret,
// and hashed again.
func sign(secret, nonce, apiKey, ts string) string {
	h1 := sha256.Sum256([]byte(nonce + ts + apiKey))
	h2 := sha256.Sum256([]byte(hex.EncodeToString(h1[:]) + secret))
	return hex.EncodeToString(h2[:])
}
