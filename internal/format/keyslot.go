package format

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/keeptower/keeptower/internal/history"
	"github.com/keeptower/keeptower/internal/keywrap"
)

// UserRole is the privilege level bound to a KeySlot.
type UserRole uint8

const (
	RoleAdministrator UserRole = 0
	RoleStandard      UserRole = 1
)

func (r UserRole) String() string {
	switch r {
	case RoleAdministrator:
		return "admin"
	case RoleStandard:
		return "standard"
	default:
		return fmt.Sprintf("UserRole(%d)", uint8(r))
	}
}

const (
	// keySlotCoreSize covers the fixed leading fields:
	// active, kek algorithm, role, must-change, two timestamps, salt,
	// wrapped DEK.
	keySlotCoreSize = 1 + 1 + 1 + 1 + 8 + 8 + keywrap.SaltSize + keywrap.WrappedSize

	MaxUsernameLength = 256
)

// KeySlot binds one user to the vault DEK: the DEK wrapped under a KEK
// derived from that user's password.
type KeySlot struct {
	Active             bool
	KEKAlgorithm       keywrap.KEKAlgorithm
	Role               UserRole
	MustChangePassword bool
	PasswordChangedAt  int64
	LastLoginAt        int64
	Salt               [keywrap.SaltSize]byte
	WrappedDEK         [keywrap.WrappedSize]byte

	// Username is only populated for plaintext (legacy) slots.
	Username string
	// UsernameHash and UsernameSalt are populated for hashed slots.
	UsernameHash []byte
	UsernameSalt [UsernameSaltSize]byte

	PasswordHistory []history.Entry
}

// Hashed reports whether the slot stores a username hash instead of the name.
func (s *KeySlot) Hashed() bool {
	return len(s.UsernameHash) > 0
}

// SerializedSize is the number of bytes Serialize produces.
func (s *KeySlot) SerializedSize() int {
	n := keySlotCoreSize + 1
	if s.Hashed() {
		n += len(s.UsernameHash) + UsernameSaltSize
	} else {
		n += 2 + len(s.Username)
	}
	return n + 2 + len(s.PasswordHistory)*history.EntrySize
}

// Serialize appends the slot encoding to dst.
func (s *KeySlot) Serialize(dst []byte) ([]byte, error) {
	if len(s.UsernameHash) > MaxUsernameHashSize {
		return nil, fmt.Errorf("%w: username hash of %d bytes", ErrInvalidKeySlot, len(s.UsernameHash))
	}
	if !s.Hashed() && len(s.Username) > MaxUsernameLength {
		return nil, fmt.Errorf("%w: username longer than %d bytes", ErrInvalidKeySlot, MaxUsernameLength)
	}
	if len(s.PasswordHistory) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: password history too long", ErrInvalidKeySlot)
	}

	dst = append(dst,
		boolByte(s.Active),
		byte(s.KEKAlgorithm),
		byte(s.Role),
		boolByte(s.MustChangePassword),
	)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(s.PasswordChangedAt))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(s.LastLoginAt))
	dst = append(dst, s.Salt[:]...)
	dst = append(dst, s.WrappedDEK[:]...)

	dst = append(dst, byte(len(s.UsernameHash)))
	if s.Hashed() {
		dst = append(dst, s.UsernameHash...)
		dst = append(dst, s.UsernameSalt[:]...)
	} else {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(len(s.Username)))
		dst = append(dst, s.Username...)
	}

	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(s.PasswordHistory)))
	for _, e := range s.PasswordHistory {
		dst = binary.LittleEndian.AppendUint64(dst, uint64(e.Timestamp))
		dst = append(dst, e.Salt[:]...)
		dst = append(dst, e.Hash[:]...)
	}
	return dst, nil
}

// DeserializeKeySlot decodes one slot starting at buf[offset]. It returns the
// slot and the number of bytes consumed.
func DeserializeKeySlot(buf []byte, offset int) (*KeySlot, int, error) {
	if offset < 0 || offset >= len(buf) {
		return nil, 0, fmt.Errorf("%w: offset %d outside buffer of %d bytes", ErrTruncated, offset, len(buf))
	}
	r := reader{buf: buf[offset:]}

	core, ok := r.next(keySlotCoreSize)
	if !ok {
		return nil, 0, fmt.Errorf("%w: key slot core", ErrTruncated)
	}

	s := &KeySlot{
		Active:             core[0] != 0,
		KEKAlgorithm:       keywrap.KEKAlgorithm(core[1]),
		Role:               UserRole(core[2]),
		MustChangePassword: core[3] != 0,
		PasswordChangedAt:  int64(binary.LittleEndian.Uint64(core[4:12])),
		LastLoginAt:        int64(binary.LittleEndian.Uint64(core[12:20])),
	}
	copy(s.Salt[:], core[20:20+keywrap.SaltSize])
	copy(s.WrappedDEK[:], core[20+keywrap.SaltSize:])

	if _, ok := s.KEKAlgorithm.Info(); !ok {
		return nil, 0, fmt.Errorf("%w: kek algorithm %d", ErrInvalidKeySlot, core[1])
	}
	if s.Role != RoleAdministrator && s.Role != RoleStandard {
		return nil, 0, fmt.Errorf("%w: role %d", ErrInvalidKeySlot, core[2])
	}

	hashSize, ok := r.u8()
	if !ok {
		return nil, 0, fmt.Errorf("%w: username hash size", ErrTruncated)
	}
	if hashSize > MaxUsernameHashSize {
		return nil, 0, fmt.Errorf("%w: username hash size %d", ErrInvalidKeySlot, hashSize)
	}

	if hashSize == 0 {
		n, ok := r.u16()
		if !ok {
			return nil, 0, fmt.Errorf("%w: username length", ErrTruncated)
		}
		if int(n) > MaxUsernameLength {
			return nil, 0, fmt.Errorf("%w: username length %d", ErrInvalidKeySlot, n)
		}
		name, ok := r.next(int(n))
		if !ok {
			return nil, 0, fmt.Errorf("%w: username", ErrTruncated)
		}
		s.Username = string(name)
	} else {
		h, ok := r.next(int(hashSize))
		if !ok {
			return nil, 0, fmt.Errorf("%w: username hash", ErrTruncated)
		}
		s.UsernameHash = append([]byte(nil), h...)
		salt, ok := r.next(UsernameSaltSize)
		if !ok {
			return nil, 0, fmt.Errorf("%w: username salt", ErrTruncated)
		}
		copy(s.UsernameSalt[:], salt)
	}

	count, ok := r.u16()
	if !ok {
		return nil, 0, fmt.Errorf("%w: history count", ErrTruncated)
	}
	if int(count)*history.EntrySize > len(r.buf)-r.off {
		return nil, 0, fmt.Errorf("%w: %d history entries", ErrTruncated, count)
	}
	if count > 0 {
		s.PasswordHistory = make([]history.Entry, count)
	}
	for i := range s.PasswordHistory {
		raw, _ := r.next(history.EntrySize)
		e := &s.PasswordHistory[i]
		e.Timestamp = int64(binary.LittleEndian.Uint64(raw[0:8]))
		copy(e.Salt[:], raw[8:8+history.SaltSize])
		copy(e.Hash[:], raw[8+history.SaltSize:])
	}

	return s, r.off, nil
}

// reader is a bounds-checked cursor over a byte slice.
type reader struct {
	buf []byte
	off int
}

func (r *reader) next(n int) ([]byte, bool) {
	if n < 0 || len(r.buf)-r.off < n {
		return nil, false
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, true
}

func (r *reader) u8() (byte, bool) {
	b, ok := r.next(1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func (r *reader) u16() (uint16, bool) {
	b, ok := r.next(2)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b), true
}

func (r *reader) u32() (uint32, bool) {
	b, ok := r.next(4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}
