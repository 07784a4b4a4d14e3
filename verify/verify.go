// Package verify checks receipt signatures against the publisher's RSA key.
//
// Receipts are signed with RSASSA-PKCS1-v1_5 over SHA-256. The public key is
// accepted either as the base64 DER blob shown in publisher consoles or as a
// PEM block.
package verify

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidKey is returned when a public key cannot be parsed.
var ErrInvalidKey = errors.New("verify: invalid public key")

// Verifier reports whether signature authenticates payload.
type Verifier interface {
	Verify(payload []byte, signature string) bool
}

// Func adapts a plain function to Verifier.
type Func func(payload []byte, signature string) bool

// Verify implements Verifier.
func (f Func) Verify(payload []byte, signature string) bool { return f(payload, signature) }

// RejectAll is used when no key is configured.
var RejectAll Verifier = Func(func([]byte, string) bool { return false })

// RSAVerifier verifies against one parsed key.
type RSAVerifier struct {
	key *rsa.PublicKey
}

// NewRSAVerifier parses publicKey once for repeated verification.
func NewRSAVerifier(publicKey string) (*RSAVerifier, error) {
	key, err := ParsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	return &RSAVerifier{key: key}, nil
}

// Verify implements Verifier.
func (v *RSAVerifier) Verify(payload []byte, signature string) bool {
	return verifyWithKey(v.key, payload, signature)
}

// Verify parses publicKey and checks signature over payload. Any malformed
// input yields false.
func Verify(publicKey string, payload []byte, signature string) bool {
	if publicKey == "" || len(payload) == 0 || signature == "" {
		return false
	}
	key, err := ParsePublicKey(publicKey)
	if err != nil {
		return false
	}
	return verifyWithKey(key, payload, signature)
}

func verifyWithKey(key *rsa.PublicKey, payload []byte, signature string) bool {
	if len(payload) == 0 || signature == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return jwt.SigningMethodRS256.Verify(string(payload), sig, key) == nil
}

// ParsePublicKey accepts a PEM block or base64 DER (SubjectPublicKeyInfo).
func ParsePublicKey(s string) (*rsa.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if !strings.HasPrefix(s, "-----BEGIN") {
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		s = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return key, nil
}

// EncodePublicKey renders pub in the base64 DER form ParsePublicKey accepts.
func EncodePublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// Sign produces the base64 signature Verify expects. It backs sandbox
// sources and tests; production receipts are signed by the remote authority.
func Sign(key *rsa.PrivateKey, payload []byte) (string, error) {
	sig, err := jwt.SigningMethodRS256.Sign(string(payload), key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
