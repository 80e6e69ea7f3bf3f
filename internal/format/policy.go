package format

import (
	"encoding/binary"
	"fmt"

	"github.com/keeptower/keeptower/internal/keywrap"
)

const (
	ChallengeSize = 64
	ReservedSize  = 45

	// PolicyLegacySize is the serialized size before the username hash
	// algorithm and Argon2 fields were added.
	PolicyLegacySize = 1 + ChallengeSize + 4 + 4 + 4 + ReservedSize // 122
	// PolicySize is the current serialized size.
	PolicySize = PolicyLegacySize + 1 + 4 + 2 + 1 + 1 // 131
)

// VaultSecurityPolicy holds the vault-wide security settings stored in the
// V2 header.
type VaultSecurityPolicy struct {
	RequireYubiKey       bool
	YubiKeyChallenge     [ChallengeSize]byte
	MinPasswordLength    uint32
	PBKDF2Iterations     uint32
	PasswordHistoryDepth uint32
	Reserved             [ReservedSize]byte

	UsernameHashAlgorithm UsernameHashAlgorithm
	Argon2MemoryKiB       uint32
	Argon2Time            uint16
	Argon2Parallelism     uint8
	FIPSMode              bool
}

// KDFParams returns the key derivation tuning carried by the policy.
func (p *VaultSecurityPolicy) KDFParams() keywrap.KDFParams {
	return keywrap.KDFParams{
		PBKDF2Iterations: int(p.PBKDF2Iterations),
		Argon2: keywrap.Argon2Params{
			MemoryKiB:   p.Argon2MemoryKiB,
			Time:        uint32(p.Argon2Time),
			Parallelism: p.Argon2Parallelism,
		},
	}
}

// Serialize encodes the policy in the current PolicySize layout.
func (p *VaultSecurityPolicy) Serialize() []byte {
	buf := make([]byte, PolicySize)
	off := 0

	buf[off] = boolByte(p.RequireYubiKey)
	off++
	copy(buf[off:], p.YubiKeyChallenge[:])
	off += ChallengeSize
	binary.LittleEndian.PutUint32(buf[off:], p.MinPasswordLength)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], p.PBKDF2Iterations)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], p.PasswordHistoryDepth)
	off += 4
	copy(buf[off:], p.Reserved[:])
	off += ReservedSize

	buf[off] = byte(p.UsernameHashAlgorithm)
	off++
	binary.LittleEndian.PutUint32(buf[off:], p.Argon2MemoryKiB)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], p.Argon2Time)
	off += 2
	buf[off] = p.Argon2Parallelism
	off++
	buf[off] = boolByte(p.FIPSMode)

	return buf
}

// DeserializePolicy decodes a policy of either PolicySize or the legacy
// PolicyLegacySize. Fields missing from the legacy form are zero.
func DeserializePolicy(buf []byte) (*VaultSecurityPolicy, error) {
	if len(buf) != PolicySize && len(buf) != PolicyLegacySize {
		return nil, fmt.Errorf("%w: size %d", ErrInvalidPolicy, len(buf))
	}

	p := &VaultSecurityPolicy{}
	off := 0

	p.RequireYubiKey = buf[off] != 0
	off++
	copy(p.YubiKeyChallenge[:], buf[off:off+ChallengeSize])
	off += ChallengeSize
	p.MinPasswordLength = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	p.PBKDF2Iterations = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	p.PasswordHistoryDepth = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	copy(p.Reserved[:], buf[off:off+ReservedSize])
	off += ReservedSize

	if len(buf) == PolicyLegacySize {
		return p, nil
	}

	p.UsernameHashAlgorithm = UsernameHashAlgorithm(buf[off])
	off++
	p.Argon2MemoryKiB = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	p.Argon2Time = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	p.Argon2Parallelism = buf[off]
	off++
	p.FIPSMode = buf[off] != 0

	if _, ok := p.UsernameHashAlgorithm.Info(); !ok {
		return nil, fmt.Errorf("%w: username hash algorithm %d", ErrInvalidPolicy, buf[PolicyLegacySize])
	}
	return p, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
