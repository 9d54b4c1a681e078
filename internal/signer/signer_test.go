package signer

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
)

func TestLocalSignerRoundTrip(t *testing.T) {
	s, err := NewLocalSigner("release-signer")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	hash := []byte("0123456789abcdef0123456789abcdef")
	sig, id, err := s.Sign(hash)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if id != "release-signer" {
		t.Fatalf("unexpected signer id %s", id)
	}
	if !Verify(s.PublicKey(), hash, sig) {
		t.Fatalf("signature did not verify")
	}
	if Verify(s.PublicKey(), []byte("other"), sig) {
		t.Fatalf("signature verified for wrong payload")
	}
}

func TestNewSignerFromSeed(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	a, err := NewSignerFromB64(base64.StdEncoding.EncodeToString(seed), "a")
	if err != nil {
		t.Fatalf("from seed: %v", err)
	}
	b, err := NewSignerFromB64(base64.StdEncoding.EncodeToString(ed25519.NewKeyFromSeed(seed)), "b")
	if err != nil {
		t.Fatalf("from private key: %v", err)
	}
	if string(a.PublicKey()) != string(b.PublicKey()) {
		t.Fatalf("seed and expanded key disagree")
	}
	if _, err := NewSignerFromB64(base64.StdEncoding.EncodeToString([]byte("short")), "c"); err == nil {
		t.Fatalf("expected error for short key")
	}
}
