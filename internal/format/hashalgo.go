package format

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"

	"github.com/keeptower/keeptower/internal/crypto"
	"github.com/keeptower/keeptower/internal/keywrap"
)

// UsernameHashAlgorithm selects how KeySlot usernames are stored. The value
// is chosen once per vault and persisted in the security policy.
type UsernameHashAlgorithm uint8

const (
	// UsernameHashPlaintext keeps the username in the clear (V1 style).
	UsernameHashPlaintext UsernameHashAlgorithm = 0
	UsernameHashSHA3_256  UsernameHashAlgorithm = 1
	UsernameHashPBKDF2    UsernameHashAlgorithm = 2
	UsernameHashArgon2id  UsernameHashAlgorithm = 3
)

const (
	UsernameSaltSize    = 16
	MaxUsernameHashSize = 32

	usernamePBKDF2Iterations = 10000
	usernameArgon2Time       = 1
	usernameArgon2MemoryKiB  = 19 * 1024
)

// Info maps the algorithm to output size, FIPS status and display name.
func (a UsernameHashAlgorithm) Info() (keywrap.AlgorithmInfo, bool) {
	switch a {
	case UsernameHashPlaintext:
		return keywrap.AlgorithmInfo{Name: "plaintext (legacy)", OutputSize: 0, FIPSApproved: true}, true
	case UsernameHashSHA3_256:
		return keywrap.AlgorithmInfo{Name: "SHA3-256", OutputSize: 32, FIPSApproved: true}, true
	case UsernameHashPBKDF2:
		return keywrap.AlgorithmInfo{Name: "PBKDF2-HMAC-SHA256", OutputSize: 32, FIPSApproved: true}, true
	case UsernameHashArgon2id:
		return keywrap.AlgorithmInfo{Name: "Argon2id", OutputSize: 32, FIPSApproved: false}, true
	default:
		return keywrap.AlgorithmInfo{}, false
	}
}

func (a UsernameHashAlgorithm) String() string {
	if info, ok := a.Info(); ok {
		return info.Name
	}
	return fmt.Sprintf("UsernameHashAlgorithm(%d)", uint8(a))
}

// ParseUsernameHashAlgorithm accepts the names used in configuration files.
func ParseUsernameHashAlgorithm(name string) (UsernameHashAlgorithm, error) {
	switch name {
	case "plaintext":
		return UsernameHashPlaintext, nil
	case "sha3-256", "":
		return UsernameHashSHA3_256, nil
	case "pbkdf2":
		return UsernameHashPBKDF2, nil
	case "argon2id":
		return UsernameHashArgon2id, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownHashAlgorithm, name)
	}
}

// HashUsername computes the keyed username hash stored in a KeySlot.
func HashUsername(alg UsernameHashAlgorithm, username string, salt []byte) ([]byte, error) {
	name := []byte(username)
	defer crypto.Zeroize(name)

	switch alg {
	case UsernameHashSHA3_256:
		h := sha3.New256()
		h.Write(salt)
		h.Write(name)
		return h.Sum(nil), nil
	case UsernameHashPBKDF2:
		return pbkdf2.Key(name, salt, usernamePBKDF2Iterations, 32, sha256.New), nil
	case UsernameHashArgon2id:
		return argon2.IDKey(name, salt, usernameArgon2Time, usernameArgon2MemoryKiB, 1, 32), nil
	case UsernameHashPlaintext:
		return nil, fmt.Errorf("%w: plaintext usernames are not hashed", ErrUnknownHashAlgorithm)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownHashAlgorithm, uint8(alg))
	}
}
