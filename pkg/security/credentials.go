package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/cuemby/shutter/pkg/types"
)

// sealedPrefix marks a credential value that was encrypted at rest
const sealedPrefix = "enc:v1:"

// CredentialCipher encrypts camera credentials stored in the device directory
type CredentialCipher struct {
	aead cipher.AEAD
}

// NewCredentialCipher creates a cipher with the given key
// The key should be 32 bytes for AES-256-GCM
func NewCredentialCipher(key []byte) (*CredentialCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &CredentialCipher{aead: gcm}, nil
}

// NewCredentialCipherFromPassword derives the key from a passphrase with SHA-256
func NewCredentialCipherFromPassword(password string) (*CredentialCipher, error) {
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}

	hash := sha256.Sum256([]byte(password))
	return NewCredentialCipher(hash[:])
}

// Encrypt encrypts plaintext and returns the nonce-prefixed ciphertext
func (c *CredentialCipher) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot encrypt empty data")
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts data produced by Encrypt
func (c *CredentialCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("cannot decrypt empty data")
	}

	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// SealAuth returns a copy of auth with the password encrypted.
// Empty or already sealed passwords are left untouched.
func (c *CredentialCipher) SealAuth(auth types.Auth) (types.Auth, error) {
	if auth.Password == "" || IsSealed(auth.Password) {
		return auth, nil
	}

	sealed, err := c.Encrypt([]byte(auth.Password))
	if err != nil {
		return auth, err
	}

	auth.Password = sealedPrefix + base64.StdEncoding.EncodeToString(sealed)
	return auth, nil
}

// OpenAuth reverses SealAuth. Plaintext passwords pass through unchanged.
func (c *CredentialCipher) OpenAuth(auth types.Auth) (types.Auth, error) {
	if !IsSealed(auth.Password) {
		return auth, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth.Password, sealedPrefix))
	if err != nil {
		return auth, fmt.Errorf("failed to decode sealed password: %w", err)
	}

	plaintext, err := c.Decrypt(raw)
	if err != nil {
		return auth, err
	}

	auth.Password = string(plaintext)
	return auth, nil
}

// IsSealed reports whether a stored value was written by SealAuth
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}
