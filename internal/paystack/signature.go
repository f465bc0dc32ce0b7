package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "x-paystack-signature"

// Sign returns the lowercase hex HMAC-SHA512 of body keyed by secret.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature authenticates the exact bytes of
// body under secret. Empty signatures or secrets never verify.
func VerifySignature(body []byte, signature string, secret []byte) bool {
	if signature == "" || len(secret) == 0 {
		return false
	}
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
