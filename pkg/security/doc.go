/*
Package security encrypts camera credentials at rest.

Camera records carry the username and password used to fetch snapshots. When a secret
key is configured (secret_key / SHUTTER_SECRET_KEY), the store seals the password with
AES-256-GCM before writing it to bbolt and opens it again on every read, so the database
file never holds a plaintext camera password.

# Key Derivation

	secret_key ──SHA-256──► 32-byte key ──► AES-256-GCM

NewCredentialCipher takes a raw 32-byte key; NewCredentialCipherFromPassword derives one
from a passphrase.

# Sealed Format

A sealed password is stored as

	enc:v1:<base64(nonce || ciphertext || tag)>

Every seal uses a fresh random nonce, so sealing the same password twice yields two
different values. OpenAuth leaves unsealed values untouched, which lets a directory
written before encryption was enabled keep working; the next import seals it. Opening a
sealed value without the key, or with the wrong key, fails instead of passing the
ciphertext on to the camera.

# Usage

	cipher, err := security.NewCredentialCipherFromPassword(cfg.SecretKey)
	if err != nil {
		return err
	}
	store, err := storage.NewBoltStore(cfg.DataDir, cipher)

Only the password is sealed; the username is stored as given.
*/
package security
