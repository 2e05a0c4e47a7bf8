package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Symmetric encryption for values at rest. The session store runs wallet
// session fragments through these before they reach Postgres, since fragments
// carry the connector's private key material. Keys are 32 bytes, hex-encoded
// in configuration; ciphertext is the GCM nonce followed by the sealed
// payload, base64-encoded as one opaque string.

func gcmFor(hexKey string) (cipher.AEAD, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under the hex-encoded AES-256 key. Every call uses
// a fresh random nonce, so encrypting the same value twice yields different
// ciphertexts.
func Encrypt(hexKey, plaintext string) (string, error) {
	gcm, err := gcmFor(hexKey)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It fails on a wrong or rotated key and on any
// tampered or truncated ciphertext; callers decide whether that is fatal or
// means "treat the value as absent".
func Decrypt(hexKey, encoded string) (string, error) {
	gcm, err := gcmFor(hexKey)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("ciphertext is not base64: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext shorter than its nonce")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plaintext), nil
}
