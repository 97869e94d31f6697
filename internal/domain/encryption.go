package domain

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// EncryptionProfile holds a symmetric data key wrapped (AES-256-GCM) under the
// process master key. The plaintext key exists only in memory, on demand.
type EncryptionProfile struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	Name       string    `json:"name"`
	WrappedKey string    `json:"wrapped_key"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (*EncryptionProfile) TableName() string {
	return "encryption_profiles"
}

// Unwrap decrypts the profile's data key with the master key.
func (p *EncryptionProfile) Unwrap(masterKey []byte) ([]byte, error) {
	blob, err := hex.DecodeString(p.WrappedKey)
	if err != nil {
		return nil, NewValidationError("encryption profile key is not valid hex", err)
	}

	gcm, err := keyWrapCipher(masterKey)
	if err != nil {
		return nil, err
	}

	if len(blob) < gcm.NonceSize() {
		return nil, NewValidationError("wrapped key blob too short", nil)
	}

	key, err := gcm.Open(nil, blob[:gcm.NonceSize()], blob[gcm.NonceSize():], nil)
	if err != nil {
		return nil, NewAuthenticationError("unwrap encryption profile key", err)
	}
	if len(key) != 32 {
		return nil, NewValidationError("unwrapped key must be 32 bytes", nil)
	}

	return key, nil
}

// WrapKey encrypts a 32-byte data key under the master key for at-rest storage.
func WrapKey(masterKey, key []byte) (string, error) {
	if len(key) != 32 {
		return "", NewValidationError("data key must be 32 bytes", nil)
	}

	gcm, err := keyWrapCipher(masterKey)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	return hex.EncodeToString(gcm.Seal(nonce, nonce, key, nil)), nil
}

func keyWrapCipher(masterKey []byte) (cipher.AEAD, error) {
	if len(masterKey) != 32 {
		return nil, NewValidationError("master key must be 32 bytes", nil)
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
