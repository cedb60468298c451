// Package crypto encrypts data at rest.
//
// Refresh tokens stored in PostgreSQL are sealed with AES-256-GCM. Two
// implementations: AESGCMEncryptor (production) and NoopEncryptor
// (dev/test plaintext passthrough).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// NoopEncryptor passes values through unencrypted.
type NoopEncryptor struct{}

func (NoopEncryptor) Encrypt(plaintext string) (string, error)  { return plaintext, nil }
func (NoopEncryptor) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }

type AESGCMEncryptor struct {
	gcm cipher.AEAD
}

// NewAESGCMEncryptor builds an encryptor from a hex-encoded 256-bit key.
func NewAESGCMEncryptor(hexKey string) (*AESGCMEncryptor, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key hex: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &AESGCMEncryptor{gcm: gcm}, nil
}

func (e *AESGCMEncryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	// Seal appends to the nonce, yielding nonce || ciphertext || tag.
	ciphertext := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), nil
}

func (e *AESGCMEncryptor) Decrypt(ciphertext string) (string, error) {
	buffer, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode hex: %w", err)
	}

	nonceSize := e.gcm.NonceSize()
	if len(buffer) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, cipherBytes := buffer[:nonceSize], buffer[nonceSize:]
	plainBytes, err := e.gcm.Open(nil, nonce, cipherBytes, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plainBytes), nil
}
