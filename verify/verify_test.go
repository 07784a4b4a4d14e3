package verify_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"sync"
	"testing"

	"github.com/xraph/billsync/verify"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func key(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

func TestVerify(t *testing.T) {
	k := key(t)
	pub, err := verify.EncodePublicKey(&k.PublicKey)
	if err != nil {
		t.Fatalf("EncodePublicKey failed: %v", err)
	}
	payload := []byte(`{"orderId":"GPA.1","productId":"one_time","purchaseToken":"t1"}`)
	sig, err := verify.Sign(k, payload)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	otherPub, _ := verify.EncodePublicKey(&other.PublicKey)

	tests := []struct {
		name      string
		key       string
		payload   []byte
		signature string
		want      bool
	}{
		{"valid", pub, payload, sig, true},
		{"tampered payload", pub, []byte(`{"productId":"coin"}`), sig, false},
		{"wrong key", otherPub, payload, sig, false},
		{"empty key", "", payload, sig, false},
		{"malformed key", "not-base64!", payload, sig, false},
		{"empty payload", pub, nil, sig, false},
		{"empty signature", pub, payload, "", false},
		{"malformed signature", pub, payload, "%%%", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := verify.Verify(tt.key, tt.payload, tt.signature); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestParsePEM(t *testing.T) {
	k := key(t)
	der, err := x509.MarshalPKIXPublicKey(&k.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey failed: %v", err)
	}
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	v, err := verify.NewRSAVerifier(pemKey)
	if err != nil {
		t.Fatalf("NewRSAVerifier failed: %v", err)
	}
	payload := []byte("receipt")
	sig, _ := verify.Sign(k, payload)
	if !v.Verify(payload, sig) {
		t.Error("expected PEM key to verify")
	}
	if v.Verify(payload, "") {
		t.Error("expected empty signature to fail")
	}
}

func TestParsePublicKeyErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "@@@", "aGVsbG8="} {
		if _, err := verify.ParsePublicKey(in); !errors.Is(err, verify.ErrInvalidKey) {
			t.Errorf("ParsePublicKey(%q): expected ErrInvalidKey, got %v", in, err)
		}
	}
}

func TestRejectAll(t *testing.T) {
	if verify.RejectAll.Verify([]byte("x"), "y") {
		t.Error("RejectAll accepted a receipt")
	}
}
