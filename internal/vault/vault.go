// Package vault provides field-level symmetric encryption for
// personally identifying data. Confidential record payloads only ever
// pass through here; callers never touch key material.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const nonceSize = 12

// ErrDecryptionFailed indicates corrupt ciphertext or a key mismatch.
// Callers degrade the affected field instead of failing the response.
var ErrDecryptionFailed = errors.New("vault: decryption failed")

// Vault encrypts and decrypts confidential field values. The interface
// exists so the cipher can be replaced without touching callers.
type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// AES implements Vault with AES-256-GCM. The key is derived
// deterministically from one process-wide secret; each ciphertext blob
// carries its own nonce, nothing is persisted separately.
type AES struct {
	aead cipher.AEAD
}

var _ Vault = (*AES)(nil)

// New derives a 256-bit key from secret and returns a ready vault.
func New(secret string) (*AES, error) {
	if secret == "" {
		return nil, errors.New("vault: secret is required")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}
	return &AES{aead: aead}, nil
}

// Encrypt seals plaintext into a base64 blob of nonce||ciphertext||tag.
// Empty input maps to empty output so absent fields stay absent.
func (v *AES) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Any malformed or tampered
// input surfaces as ErrDecryptionFailed; the underlying cause is not
// exposed to avoid leaking cipher internals into responses.
func (v *AES) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	if len(raw) < nonceSize {
		return "", ErrDecryptionFailed
	}
	plaintext, err := v.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
