package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/cockroachdb/errors"
)

// LocalKeySize is the size of the local AES-256 key.
const LocalKeySize = 32

// sealVersion prefixes every local ciphertext so the format can change
// without misreading old entries.
const sealVersion byte = 1

// LocalCipher is the process-wide symmetric cipher used for secrets held in
// the cache. It is AES-256-GCM with a random nonce per seal and the purpose
// as additional authenticated data. Safe for concurrent use.
type LocalCipher struct {
	aead cipher.AEAD
}

// NewLocalCipher returns a LocalCipher for a 32 byte key.
func NewLocalCipher(key []byte) (*LocalCipher, error) {
	if len(key) != LocalKeySize {
		return nil, errors.Newf("crypto: local key must be %d bytes, got %d", LocalKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: failed to create AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: failed to create GCM")
	}
	return &LocalCipher{aead: gcm}, nil
}

// LoadLocalCipher asks kms to unwrap the local data key once and returns a
// cipher for it. Call it at process start, never per request.
func LoadLocalCipher(ctx context.Context, kms KMS, wrappedKey []byte) (*LocalCipher, error) {
	key, err := kms.Decrypt(ctx, wrappedKey, PurposeLocalKey)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "crypto: failed to unwrap local key"), ErrSecretRewrap)
	}
	defer clear(key)
	return NewLocalCipher(key)
}

// Seal encrypts plaintext for purpose.
func (c *LocalCipher) Seal(plaintext []byte, purpose Purpose) ([]byte, error) {
	if err := checkPurpose(purpose); err != nil {
		return nil, err
	}
	nonceSize := c.aead.NonceSize()
	out := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+c.aead.Overhead())
	out[0] = sealVersion
	nonce := out[1:]
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "crypto: failed to generate nonce")
	}
	return c.aead.Seal(out, nonce, plaintext, []byte(purpose.String())), nil
}

// Open decrypts a value produced by Seal for the same purpose.
func (c *LocalCipher) Open(ciphertext []byte, purpose Purpose) ([]byte, error) {
	if err := checkPurpose(purpose); err != nil {
		return nil, err
	}
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < 1+nonceSize+c.aead.Overhead() {
		return nil, errors.New("crypto: ciphertext too short")
	}
	if ciphertext[0] != sealVersion {
		return nil, errors.Newf("crypto: unsupported ciphertext version %d", ciphertext[0])
	}
	nonce, sealed := ciphertext[1:1+nonceSize], ciphertext[1+nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, []byte(purpose.String()))
	if err != nil {
		return nil, errors.Wrap(err, "crypto: failed to decrypt")
	}
	return plaintext, nil
}
