// Package keywrap wraps the vault Data-Encryption-Key under per-user
// Key-Encryption-Keys derived from passwords and, optionally, a hardware
// token response.
package keywrap

import (
	"crypto/aes"
	"crypto/sha256"
	"errors"
	"fmt"

	aeskw "github.com/NickBall/go-aes-key-wrap"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/keeptower/keeptower/internal/crypto"
)

const (
	KEKSize         = 32
	DEKSize         = 32
	WrappedSize     = DEKSize + 8 // RFC 3394 integrity check value
	SaltSize        = 32
	YubiKeyRespSize = 20
)

var (
	// ErrUnwrapFailed is deliberately the only unwrap failure. A wrong KEK
	// and a corrupted wrapped key are indistinguishable to the caller.
	ErrUnwrapFailed = errors.New("key unwrap failed")

	ErrInvalidKEKSize    = errors.New("invalid KEK size")
	ErrInvalidDEKSize    = errors.New("invalid DEK size")
	ErrInvalidIterations = errors.New("iteration count must be at least 1")
	ErrInvalidResponse   = errors.New("invalid hardware token response size")
)

// WrapKey wraps dek under kek using AES Key Wrap (RFC 3394).
func WrapKey(kek, dek []byte) ([]byte, error) {
	if len(kek) != KEKSize {
		return nil, ErrInvalidKEKSize
	}
	if len(dek) != DEKSize {
		return nil, ErrInvalidDEKSize
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	wrapped, err := aeskw.Wrap(block, dek)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap key: %w", err)
	}
	return wrapped, nil
}

// UnwrapKey reverses WrapKey. Every failure, including malformed input,
// returns ErrUnwrapFailed.
func UnwrapKey(kek, wrapped []byte) ([]byte, error) {
	if len(kek) != KEKSize || len(wrapped) != WrappedSize {
		return nil, ErrUnwrapFailed
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, ErrUnwrapFailed
	}

	dek, err := aeskw.Unwrap(block, wrapped)
	if err != nil || len(dek) != DEKSize {
		return nil, ErrUnwrapFailed
	}
	return dek, nil
}

// DeriveKEKFromPassword derives a KEK with PBKDF2-HMAC-SHA256 over the UTF-8
// bytes of password.
func DeriveKEKFromPassword(password string, salt []byte, iterations int) ([]byte, error) {
	if iterations < 1 {
		return nil, ErrInvalidIterations
	}
	pw := []byte(password)
	defer crypto.Zeroize(pw)
	return pbkdf2.Key(pw, salt, iterations, KEKSize, sha256.New), nil
}

// Argon2Params tunes DeriveKEKArgon2id.
type Argon2Params struct {
	MemoryKiB   uint32
	Time        uint32
	Parallelism uint8
}

// DefaultArgon2Params returns the parameters used when a vault's policy does
// not specify any.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		MemoryKiB:   64 * 1024, // 64 MB
		Time:        3,
		Parallelism: 4,
	}
}

// WithDefaults fills zero fields from DefaultArgon2Params.
func (p Argon2Params) WithDefaults() Argon2Params {
	def := DefaultArgon2Params()
	if p.MemoryKiB == 0 {
		p.MemoryKiB = def.MemoryKiB
	}
	if p.Time == 0 {
		p.Time = def.Time
	}
	if p.Parallelism == 0 {
		p.Parallelism = def.Parallelism
	}
	return p
}

// DeriveKEKArgon2id derives a KEK with Argon2id.
func DeriveKEKArgon2id(password string, salt []byte, params Argon2Params) []byte {
	params = params.WithDefaults()
	pw := []byte(password)
	defer crypto.Zeroize(pw)
	return argon2.IDKey(pw, salt, params.Time, params.MemoryKiB, params.Parallelism, KEKSize)
}

// CombineWithYubiKey mixes a 20-byte hardware challenge-response into kek by
// XOR over its first 20 bytes. The remaining bytes are left untouched, so
// applying the same response twice restores the input.
func CombineWithYubiKey(kek, response []byte) ([]byte, error) {
	if len(kek) != KEKSize {
		return nil, ErrInvalidKEKSize
	}
	if len(response) != YubiKeyRespSize {
		return nil, ErrInvalidResponse
	}

	out := make([]byte, KEKSize)
	copy(out, kek)
	for i := 0; i < YubiKeyRespSize; i++ {
		out[i] ^= response[i]
	}
	return out, nil
}

// GenerateRandomDEK returns a fresh data-encryption key.
func GenerateRandomDEK() ([]byte, error) {
	return crypto.GenerateRandomBytes(DEKSize)
}

// GenerateRandomSalt returns a fresh per-user KEK salt.
func GenerateRandomSalt() ([]byte, error) {
	return crypto.GenerateRandomBytes(SaltSize)
}
