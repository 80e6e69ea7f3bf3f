package vault

import (
	"errors"
	"fmt"
	"os"

	"github.com/keeptower/keeptower/internal/crypto"
	"github.com/keeptower/keeptower/internal/domain"
	"github.com/keeptower/keeptower/internal/format"
)

// CreateVault creates a single-user (V1) vault protected by password and
// leaves it open.
func (m *Manager) CreateVault(path, password string, iterations int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkCreate(path); err != nil {
		return err
	}
	if iterations < 1 {
		return crypto.ErrInvalidIterations
	}

	h := &format.V1Header{Iterations: uint32(iterations)}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}
	copy(h.Salt[:], salt)

	key, err := deriveV1Key(password, h)
	if err != nil {
		return err
	}

	m.v1 = h
	m.activate(path, format.VersionV1, key, newPayload(m.now().Unix()))

	if err := m.save(); err != nil {
		m.reset()
		return err
	}

	m.log.Info().Str("path", path).Int("iterations", iterations).Msg("created single-user vault")
	return nil
}

// OpenVault opens a V1 vault, including header-less legacy files.
func (m *Manager) OpenVault(path, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		return ErrVaultAlreadyOpen
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read vault: %w", err)
	}

	h, ciphertext, err := format.ReadV1(data)
	if err != nil {
		if errors.Is(err, format.ErrUnsupportedVersion) {
			return fmt.Errorf("%w: %w", ErrWrongVersion, err)
		}
		return err
	}

	key, err := deriveV1Key(password, h)
	if err != nil {
		return err
	}

	plain, err := crypto.DecryptData(ciphertext, key, h.IV[:])
	if err != nil {
		crypto.Zeroize(key)
		m.log.Debug().Str("path", path).Msg("v1 open rejected")
		return ErrAuthenticationFailed
	}
	defer crypto.Zeroize(plain)

	payload, err := domain.UnmarshalPayload(plain)
	if err != nil {
		crypto.Zeroize(key)
		return err
	}

	m.v1 = h
	m.activate(path, format.VersionV1, key, payload)
	m.migrate()
	if h.Legacy {
		// Rewritten with a proper header on next save.
		m.dirty = true
	}

	m.log.Info().Str("path", path).Bool("legacy", h.Legacy).Int("accounts", len(payload.Accounts)).Msg("opened single-user vault")
	return nil
}

// ChangeMasterPassword re-keys a V1 vault under a new salt and saves it.
func (m *Manager) ChangeMasterPassword(oldPassword, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOpen(); err != nil {
		return err
	}
	if m.version != format.VersionV1 {
		return fmt.Errorf("%w: use ChangeUserPassword on multi-user vaults", ErrWrongVersion)
	}

	check, err := deriveV1Key(oldPassword, m.v1)
	if err != nil {
		return err
	}
	ok := crypto.SecureCompare(check, m.dek.Bytes())
	crypto.Zeroize(check)
	if !ok {
		return ErrAuthenticationFailed
	}

	h := *m.v1
	h.Legacy = false
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}
	copy(h.Salt[:], salt)

	key, err := deriveV1Key(newPassword, &h)
	if err != nil {
		return err
	}

	oldHeader, oldKey := m.v1, m.dek
	m.v1 = &h
	m.activate(m.path, format.VersionV1, key, m.payload)

	if err := m.save(); err != nil {
		m.destroyKey(m.dek, "new key")
		m.v1, m.dek = oldHeader, oldKey
		return err
	}
	m.destroyKey(oldKey, "previous key")

	m.log.Info().Str("path", m.path).Msg("master password changed")
	return nil
}

// encodeV1 encrypts plain under a fresh IV.
func (m *Manager) encodeV1(plain []byte) ([]byte, error) {
	iv, err := crypto.GenerateIV()
	if err != nil {
		return nil, err
	}
	copy(m.v1.IV[:], iv)
	m.v1.Legacy = false

	ct, err := crypto.EncryptData(plain, m.dek.Bytes(), m.v1.IV[:])
	if err != nil {
		return nil, err
	}
	return format.WriteV1(m.v1, ct), nil
}

func deriveV1Key(password string, h *format.V1Header) ([]byte, error) {
	pw := []byte(password)
	defer crypto.Zeroize(pw)
	return crypto.DeriveKey(pw, h.Salt[:], int(h.Iterations))
}
