// Package signer signs audit records produced during a release.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// Signer signs hash bytes and reports which key produced the signature.
type Signer interface {
	Sign(hash []byte) (sig []byte, signerID string, err error)
	PublicKey() []byte
}

// LocalSigner is an in-process Ed25519 signer.
type LocalSigner struct {
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	signerID string
}

// NewLocalSigner generates an ephemeral key pair.
func NewLocalSigner(signerID string) (*LocalSigner, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &LocalSigner{priv: priv, pub: pub, signerID: signerID}, nil
}

// NewSignerFromB64 loads a base64 Ed25519 private key or 32-byte seed.
func NewSignerFromB64(keyB64, signerID string) (*LocalSigner, error) {
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("decode signer key: %w", err)
	}
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("signer key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
	return &LocalSigner{priv: priv, pub: priv.Public().(ed25519.PublicKey), signerID: signerID}, nil
}

func (l *LocalSigner) Sign(hash []byte) ([]byte, string, error) {
	if l.priv == nil {
		return nil, "", errors.New("local signer: private key not initialized")
	}
	return ed25519.Sign(l.priv, hash), l.signerID, nil
}

func (l *LocalSigner) PublicKey() []byte { return l.pub }

// Verify checks sig against hash with an Ed25519 public key.
func Verify(pub, hash, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), hash, sig)
}
