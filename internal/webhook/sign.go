package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"time"
)

const signaturePrefix = "sha256="

// Sign computes the signature header value for a payload. The bytes signed
// must be exactly the bytes transmitted.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header against a payload. Comparison is
// constant time.
func VerifySignature(payload []byte, secret, header string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

// RetryDelay is the backoff before retry attempt n: 5^n seconds, so 5s, 25s,
// 125s for the three attempts the dispatcher allows.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(math.Pow(5, float64(attempt))) * time.Second
}
