package keywrap

import (
	"errors"
	"fmt"
)

// KEKAlgorithm identifies how a KeySlot's KEK is derived from a password.
// The value is persisted in the slot.
type KEKAlgorithm uint8

const (
	KEKPBKDF2SHA256 KEKAlgorithm = 0
	KEKArgon2id     KEKAlgorithm = 1
)

// AlgorithmInfo describes a KDF or hash choice.
type AlgorithmInfo struct {
	Name         string
	OutputSize   int
	FIPSApproved bool
}

var ErrUnknownAlgorithm = errors.New("unknown key derivation algorithm")

// Info maps the algorithm to its static description.
func (a KEKAlgorithm) Info() (AlgorithmInfo, bool) {
	switch a {
	case KEKPBKDF2SHA256:
		return AlgorithmInfo{Name: "PBKDF2-HMAC-SHA256", OutputSize: KEKSize, FIPSApproved: true}, true
	case KEKArgon2id:
		return AlgorithmInfo{Name: "Argon2id", OutputSize: KEKSize, FIPSApproved: false}, true
	default:
		return AlgorithmInfo{}, false
	}
}

func (a KEKAlgorithm) String() string {
	if info, ok := a.Info(); ok {
		return info.Name
	}
	return fmt.Sprintf("KEKAlgorithm(%d)", uint8(a))
}

// KDFParams carries the per-vault tuning for every KEK algorithm.
type KDFParams struct {
	PBKDF2Iterations int
	Argon2           Argon2Params
}

// DeriveKEK derives a KEK with the selected algorithm.
func DeriveKEK(alg KEKAlgorithm, password string, salt []byte, params KDFParams) ([]byte, error) {
	switch alg {
	case KEKPBKDF2SHA256:
		return DeriveKEKFromPassword(password, salt, params.PBKDF2Iterations)
	case KEKArgon2id:
		return DeriveKEKArgon2id(password, salt, params.Argon2), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, uint8(alg))
	}
}

// HardwareToken is the transport to a challenge-response token such as a
// YubiKey in HMAC-SHA1 mode. Implementations live outside this module.
type HardwareToken interface {
	ChallengeResponse(challenge []byte, pin string) ([YubiKeyRespSize]byte, error)
}
