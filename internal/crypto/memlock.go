package crypto

import (
	"github.com/awnumar/memcall"
)

// LockMemory pins b in RAM so it is not written to swap. It is best effort:
// callers log the error and carry on.
func LockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return memcall.Lock(b)
}

// UnlockMemory releases a pin taken by LockMemory.
func UnlockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return memcall.Unlock(b)
}

// SecureBuffer owns a copy of sensitive key material. The bytes are pinned
// when possible and are zero-filled on Destroy.
type SecureBuffer struct {
	data   []byte
	locked bool
}

// NewSecureBuffer copies src into a new buffer and tries to pin it. The
// returned error reports a pinning failure only; the buffer is usable either
// way.
func NewSecureBuffer(src []byte) (*SecureBuffer, error) {
	sb := &SecureBuffer{data: make([]byte, len(src))}
	copy(sb.data, src)

	if err := LockMemory(sb.data); err != nil {
		return sb, err
	}
	sb.locked = len(sb.data) > 0
	return sb, nil
}

// Bytes returns the underlying slice. It must not be retained after Destroy.
func (sb *SecureBuffer) Bytes() []byte {
	if sb == nil {
		return nil
	}
	return sb.data
}

// Locked reports whether the buffer is pinned.
func (sb *SecureBuffer) Locked() bool {
	return sb != nil && sb.locked
}

// Destroy unpins and zero-fills the buffer. Safe to call more than once.
func (sb *SecureBuffer) Destroy() error {
	if sb == nil || sb.data == nil {
		return nil
	}

	// Wipe while still pinned so the key never reaches swap.
	Zeroize(sb.data)

	var err error
	if sb.locked {
		err = UnlockMemory(sb.data)
		sb.locked = false
	}
	sb.data = nil
	return err
}
