// Package webhook signs and verifies callback bodies with HMAC-SHA256.
//
// Signatures travel in the X-Signature header as "sha256=<hex>". Callers that
// cannot sign may present the shared secret itself in X-Webhook-Secret.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

const (
	SignatureHeader = "X-Signature"
	SecretHeader    = "X-Webhook-Secret"

	signaturePrefix = "sha256="
)

// Sign returns the header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a "sha256=<hex>" header value against body in constant time.
func Verify(secret, body []byte, header string) bool {
	if len(secret) == 0 || !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// VerifyRequest accepts either a valid signature or the shared secret header.
func VerifyRequest(secret []byte, r *http.Request, body []byte) bool {
	if len(secret) == 0 {
		return false
	}
	if sig := r.Header.Get(SignatureHeader); sig != "" {
		return Verify(secret, body, sig)
	}
	if shared := r.Header.Get(SecretHeader); shared != "" {
		return subtle.ConstantTimeCompare([]byte(shared), secret) == 1
	}
	return false
}
