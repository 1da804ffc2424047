// Package signing produces and verifies the HMAC tokens that protect signed
// object URLs served by the API itself.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Signer generates and validates HMAC-SHA256 signatures binding a storage
// key to an expiry instant.
type Signer struct {
	secret []byte
}

// NewSigner builds a Signer from a shared secret.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature for key expiring at expiresUnix.
func (s *Signer) Sign(key string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", key, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches key and the expires query value.
// Expiry against the clock is the caller's check; Verify only binds the
// parameters to the secret.
func (s *Signer) Verify(key, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	expected := s.Sign(key, exp)
	return hmac.Equal([]byte(expected), []byte(signature))
}
