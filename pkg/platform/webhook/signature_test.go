package webhook

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"correlationId":"c-1"}`)
	sig := Sign(secret, body)

	assert.True(t, strings.HasPrefix(sig, "sha256="))
	assert.True(t, Verify(secret, body, sig))
	assert.False(t, Verify(secret, []byte(`{"correlationId":"c-2"}`), sig))
	assert.False(t, Verify([]byte("other"), body, sig))
	assert.False(t, Verify(secret, body, "sha256=zz"))
	assert.False(t, Verify(secret, body, strings.TrimPrefix(sig, "sha256=")))
	assert.False(t, Verify(nil, body, sig))
}

func TestVerifyRequest(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{}`)

	signed := httptest.NewRequest("POST", "/", nil)
	signed.Header.Set(SignatureHeader, Sign(secret, body))
	assert.True(t, VerifyRequest(secret, signed, body))

	shared := httptest.NewRequest("POST", "/", nil)
	shared.Header.Set(SecretHeader, "s3cret")
	assert.True(t, VerifyRequest(secret, shared, body))

	wrong := httptest.NewRequest("POST", "/", nil)
	wrong.Header.Set(SecretHeader, "guess")
	assert.False(t, VerifyRequest(secret, wrong, body))

	assert.False(t, VerifyRequest(secret, httptest.NewRequest("POST", "/", nil), body))
	assert.False(t, VerifyRequest(nil, shared, body))
}
