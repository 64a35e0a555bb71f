package secmsg

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"firestige.xyz/v2xtrx/internal/core"
)

const (
	pemType   = "PRIVATE KEY"
	digestLen = 8
)

// LoadKey reads a PKCS#8 PEM encoded Ed25519 private key.
func LoadKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return ParseKey(data)
}

// ParseKey decodes a PKCS#8 PEM encoded Ed25519 private key.
func ParseKey(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemType {
		return nil, fmt.Errorf("%w: no %q PEM block", core.ErrInvalidKey, pemType)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidKey, err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an ed25519 key", core.ErrInvalidKey, parsed)
	}
	return key, nil
}

// GenerateKey creates a new Ed25519 key and returns it with its PEM form.
func GenerateKey() (ed25519.PrivateKey, []byte, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	return key, pem.EncodeToMemory(&pem.Block{Type: pemType, Bytes: der}), nil
}

// Digest returns the short signer identifier of a public key.
func Digest(pub ed25519.PublicKey) []byte {
	sum := sha256.Sum256(pub)
	return sum[:digestLen]
}
