package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Crypto constants
	KeySize  = 32 // AES-256 key size
	IVSize   = 12 // GCM nonce size
	TagSize  = 16 // GCM tag size
	MinSalt  = 16 // Minimum PBKDF2 salt size accepted by callers that enforce it
	SaltSize = 32 // Salt size used for vault-level derivations

	// DefaultPBKDF2Iterations is the iteration count for new vaults
	DefaultPBKDF2Iterations = 600000
)

var (
	ErrInvalidKeySize     = errors.New("invalid key size")
	ErrInvalidIVSize      = errors.New("invalid iv size")
	ErrInvalidIterations  = errors.New("iteration count must be at least 1")
	ErrCiphertextTooShort = errors.New("ciphertext shorter than authentication tag")
	ErrDecryptionFailed   = errors.New("decryption failed")
)

// DeriveKey derives a 32-byte key from a password using PBKDF2-HMAC-SHA256.
// Empty passwords and all-zero salts are accepted; choosing safe inputs is the
// caller's job.
func DeriveKey(password []byte, salt []byte, iterations int) ([]byte, error) {
	if iterations < 1 {
		return nil, ErrInvalidIterations
	}
	return pbkdf2.Key(password, salt, iterations, KeySize, sha256.New), nil
}

// EncryptData encrypts plaintext with AES-256-GCM and returns ciphertext||tag.
func EncryptData(plaintext, key, iv []byte) ([]byte, error) {
	return EncryptDataWithAAD(plaintext, key, iv, nil)
}

// EncryptDataWithAAD is EncryptData with additional authenticated data.
func EncryptDataWithAAD(plaintext, key, iv, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key, iv)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, iv, plaintext, aad), nil
}

// DecryptData verifies and decrypts ciphertext||tag produced by EncryptData.
func DecryptData(input, key, iv []byte) ([]byte, error) {
	return DecryptDataWithAAD(input, key, iv, nil)
}

// DecryptDataWithAAD is DecryptData with additional authenticated data.
func DecryptDataWithAAD(input, key, iv, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key, iv)
	if err != nil {
		return nil, err
	}
	if len(input) < TagSize {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err := gcm.Open(nil, iv, input, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	// gcm.Open returns nil for an empty plaintext; callers expect a slice
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

func newGCM(key, iv []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if len(iv) != IVSize {
		return nil, ErrInvalidIVSize
	}

	// Create AES cipher
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	// Create GCM mode
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// GenerateRandomBytes returns n bytes from the system CSPRNG.
func GenerateRandomBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("invalid random length %d", n)
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// GenerateSalt creates a cryptographically secure random salt
func GenerateSalt() ([]byte, error) {
	return GenerateRandomBytes(SaltSize)
}

// GenerateIV creates a fresh GCM nonce
func GenerateIV() ([]byte, error) {
	return GenerateRandomBytes(IVSize)
}

// Zeroize securely clears a byte slice
func Zeroize(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// SecureCompare performs constant-time comparison of two byte slices
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
