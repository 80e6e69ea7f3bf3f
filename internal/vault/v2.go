package vault

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/keeptower/keeptower/internal/crypto"
	"github.com/keeptower/keeptower/internal/domain"
	"github.com/keeptower/keeptower/internal/format"
	"github.com/keeptower/keeptower/internal/history"
	"github.com/keeptower/keeptower/internal/keywrap"
)

const createStages = 4

// CreateVaultV2 creates a multi-user vault whose only key slot is an
// administrator named adminUsername, and leaves it open as that user. A
// zero policy.PBKDF2Iterations selects the default. yubikeyPIN is passed to
// the hardware token when the policy requires one.
func (m *Manager) CreateVaultV2(path, adminUsername, password, yubikeyPIN string, policy format.VaultSecurityPolicy, fn ProgressFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkCreate(path); err != nil {
		return err
	}
	adminUsername = strings.TrimSpace(adminUsername)
	if adminUsername == "" {
		return ErrInvalidUsername
	}
	if policy.PBKDF2Iterations == 0 {
		policy.PBKDF2Iterations = crypto.DefaultPBKDF2Iterations
	}
	if policy.PasswordHistoryDepth > history.MaxDepth {
		policy.PasswordHistoryDepth = history.MaxDepth
	}
	if err := checkPolicyAlgorithms(&policy, m.kekAlgorithm); err != nil {
		return err
	}
	if err := checkPasswordLength(&policy, password); err != nil {
		return err
	}

	if err := progress(fn, "generating keys", 1, createStages); err != nil {
		return err
	}
	h := &format.VaultHeaderV2{Policy: policy}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}
	copy(h.DataSalt[:], salt)

	var response []byte
	if policy.RequireYubiKey {
		if isZero(h.Policy.YubiKeyChallenge[:]) {
			challenge, err := crypto.GenerateRandomBytes(format.ChallengeSize)
			if err != nil {
				return err
			}
			copy(h.Policy.YubiKeyChallenge[:], challenge)
		}
		if response, err = m.challenge(&h.Policy, yubikeyPIN); err != nil {
			return err
		}
		defer crypto.Zeroize(response)
	}

	dek, err := keywrap.GenerateRandomDEK()
	if err != nil {
		return err
	}

	if err := progress(fn, "deriving key", 2, createStages); err != nil {
		crypto.Zeroize(dek)
		return err
	}
	slot, err := m.newSlot(&h.Policy, adminUsername, password, format.RoleAdministrator, dek, response)
	if err != nil {
		crypto.Zeroize(dek)
		return err
	}
	slot.LastLoginAt = slot.PasswordChangedAt
	h.KeySlots = []*format.KeySlot{slot}

	if err := progress(fn, "wrapping key", 3, createStages); err != nil {
		crypto.Zeroize(dek)
		return err
	}

	m.header = h
	m.slot = slot
	m.username = adminUsername
	m.setTokenResponse(response)
	m.activate(path, format.VersionV2, dek, newPayload(m.now().Unix()))

	if err := progress(fn, "writing vault", 4, createStages); err != nil {
		m.reset()
		return err
	}
	if err := m.save(); err != nil {
		m.reset()
		return err
	}

	m.log.Info().
		Str("path", path).
		Uint32("iterations", policy.PBKDF2Iterations).
		Str("username_hash", policy.UsernameHashAlgorithm.String()).
		Bool("yubikey", policy.RequireYubiKey).
		Msg("created multi-user vault")
	return nil
}

// OpenVaultV2 opens a multi-user vault as username. Unknown users, wrong
// passwords, wrong hardware responses and tampered files all fail with
// ErrAuthenticationFailed.
func (m *Manager) OpenVaultV2(path, username, password, yubikeyPIN string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		return ErrVaultAlreadyOpen
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read vault: %w", err)
	}

	h, offset, err := format.ReadHeader(data)
	if err != nil {
		if errors.Is(err, format.ErrUnsupportedVersion) || errors.Is(err, format.ErrInvalidMagic) {
			return fmt.Errorf("%w: %w", ErrWrongVersion, err)
		}
		return err
	}
	if h.FECEnabled {
		m.log.Debug().Int("redundancy", h.FECRedundancy).Msg("header decoded through FEC")
	}

	slot := findSlot(h, username)
	if slot == nil {
		m.log.Debug().Str("path", path).Msg("no key slot matches user")
		return ErrAuthenticationFailed
	}

	var response []byte
	if h.Policy.RequireYubiKey && m.token != nil {
		if response, err = m.challenge(&h.Policy, yubikeyPIN); err != nil {
			return err
		}
		defer crypto.Zeroize(response)
	}

	dek, err := m.unwrapSlot(&h.Policy, slot, password, response)
	if err != nil {
		return err
	}

	plain, err := crypto.DecryptDataWithAAD(data[offset:], dek, h.DataIV[:], h.RawBody())
	if err != nil {
		crypto.Zeroize(dek)
		m.log.Debug().Str("path", path).Msg("payload authentication failed")
		return ErrAuthenticationFailed
	}
	defer crypto.Zeroize(plain)

	payload, err := domain.UnmarshalPayload(plain)
	if err != nil {
		crypto.Zeroize(dek)
		return err
	}

	slot.LastLoginAt = m.now().Unix()

	m.header = h
	m.slot = slot
	m.username = username
	m.setTokenResponse(response)
	m.activate(path, format.VersionV2, dek, payload)
	m.migrate()

	m.log.Info().
		Str("path", path).
		Str("role", slot.Role.String()).
		Int("accounts", len(payload.Accounts)).
		Bool("must_change_password", slot.MustChangePassword).
		Msg("opened multi-user vault")
	return nil
}

// encodeV2 encrypts plain under a fresh IV. The serialized header body is
// bound to the ciphertext as additional authenticated data.
func (m *Manager) encodeV2(plain []byte) ([]byte, error) {
	h := m.header

	iv, err := crypto.GenerateIV()
	if err != nil {
		return nil, err
	}
	copy(h.DataIV[:], iv)

	body, err := h.SerializeBody()
	if err != nil {
		return nil, err
	}

	applyFEC, redundancy := m.fecEnabled, m.fecRedundancy
	if !applyFEC && h.FECEnabled {
		applyFEC, redundancy = true, h.FECRedundancy
	}

	out, err := format.WriteHeader(h, applyFEC, redundancy)
	if err != nil {
		return nil, err
	}
	h.FECEnabled = applyFEC
	if applyFEC {
		h.FECRedundancy = format.ClampHeaderRedundancy(redundancy)
	}

	ct, err := crypto.EncryptDataWithAAD(plain, m.dek.Bytes(), h.DataIV[:], body)
	if err != nil {
		return nil, err
	}
	return append(out, ct...), nil
}

// newSlot builds an active slot for username holding dek wrapped under a KEK
// derived from password. The password is recorded in the slot history when
// the policy keeps one.
func (m *Manager) newSlot(policy *format.VaultSecurityPolicy, username, password string, role format.UserRole, dek, response []byte) (*format.KeySlot, error) {
	slot := &format.KeySlot{
		Active:            true,
		KEKAlgorithm:      m.slotAlgorithm(policy),
		Role:              role,
		PasswordChangedAt: m.now().Unix(),
	}

	if policy.UsernameHashAlgorithm == format.UsernameHashPlaintext {
		if len(username) > format.MaxUsernameLength {
			return nil, fmt.Errorf("%w: username longer than %d bytes", format.ErrInvalidKeySlot, format.MaxUsernameLength)
		}
		slot.Username = username
	} else {
		salt, err := crypto.GenerateRandomBytes(format.UsernameSaltSize)
		if err != nil {
			return nil, err
		}
		copy(slot.UsernameSalt[:], salt)
		if slot.UsernameHash, err = format.HashUsername(policy.UsernameHashAlgorithm, username, salt); err != nil {
			return nil, err
		}
	}

	if err := m.wrapIntoSlot(policy, slot, password, dek, response); err != nil {
		return nil, err
	}
	if err := recordHistory(policy, slot, password); err != nil {
		return nil, err
	}
	return slot, nil
}

// wrapIntoSlot gives slot a fresh salt and wraps dek under the KEK derived
// from password.
func (m *Manager) wrapIntoSlot(policy *format.VaultSecurityPolicy, slot *format.KeySlot, password string, dek, response []byte) error {
	salt, err := keywrap.GenerateRandomSalt()
	if err != nil {
		return err
	}
	copy(slot.Salt[:], salt)

	kek, err := deriveSlotKEK(policy, slot, password, response)
	if err != nil {
		return err
	}
	defer crypto.Zeroize(kek)

	wrapped, err := keywrap.WrapKey(kek, dek)
	if err != nil {
		return err
	}
	copy(slot.WrappedDEK[:], wrapped)
	return nil
}

// unwrapSlot recovers the DEK from slot. Any failure is reported as
// ErrAuthenticationFailed.
func (m *Manager) unwrapSlot(policy *format.VaultSecurityPolicy, slot *format.KeySlot, password string, response []byte) ([]byte, error) {
	kek, err := deriveSlotKEK(policy, slot, password, response)
	if err != nil {
		return nil, err
	}
	defer crypto.Zeroize(kek)

	dek, err := keywrap.UnwrapKey(kek, slot.WrappedDEK[:])
	if err != nil {
		m.log.Debug().Msg("key slot unwrap rejected")
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	return dek, nil
}

// slotAlgorithm picks the KEK algorithm for new slots. FIPS vaults always use
// PBKDF2.
func (m *Manager) slotAlgorithm(policy *format.VaultSecurityPolicy) keywrap.KEKAlgorithm {
	if policy.FIPSMode {
		if info, ok := m.kekAlgorithm.Info(); !ok || !info.FIPSApproved {
			return keywrap.KEKPBKDF2SHA256
		}
	}
	return m.kekAlgorithm
}

// challenge asks the hardware token for its response to the vault
// challenge.
func (m *Manager) challenge(policy *format.VaultSecurityPolicy, pin string) ([]byte, error) {
	if m.token == nil {
		return nil, fmt.Errorf("%w: vault requires a hardware token but none is configured", ErrYubiKey)
	}
	response, err := m.token.ChallengeResponse(policy.YubiKeyChallenge[:], pin)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrYubiKey, err)
	}
	out := make([]byte, len(response))
	copy(out, response[:])
	crypto.Zeroize(response[:])
	return out, nil
}

func (m *Manager) setTokenResponse(response []byte) {
	if response == nil {
		return
	}
	sb, err := crypto.NewSecureBuffer(response)
	if err != nil {
		m.log.Warn().Err(err).Msg("could not lock token response memory; continuing unpinned")
	}
	m.tokenResponse = sb
}

func deriveSlotKEK(policy *format.VaultSecurityPolicy, slot *format.KeySlot, password string, response []byte) ([]byte, error) {
	kek, err := keywrap.DeriveKEK(slot.KEKAlgorithm, password, slot.Salt[:], policy.KDFParams())
	if err != nil {
		return nil, err
	}
	if response == nil {
		return kek, nil
	}
	combined, err := keywrap.CombineWithYubiKey(kek, response)
	crypto.Zeroize(kek)
	return combined, err
}

// findSlot returns the active slot for username, or nil.
func findSlot(h *format.VaultHeaderV2, username string) *format.KeySlot {
	var match *format.KeySlot
	for _, slot := range h.KeySlots {
		if !slot.Active {
			continue
		}
		if slotMatches(&h.Policy, slot, username) && match == nil {
			match = slot
		}
	}
	return match
}

func slotMatches(policy *format.VaultSecurityPolicy, slot *format.KeySlot, username string) bool {
	if !slot.Hashed() {
		return subtle.ConstantTimeCompare([]byte(slot.Username), []byte(username)) == 1
	}
	sum, err := format.HashUsername(policy.UsernameHashAlgorithm, username, slot.UsernameSalt[:])
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(sum, slot.UsernameHash) == 1
}

// recordHistory appends password to the slot history, honoring depth 0 as
// disabled.
func recordHistory(policy *format.VaultSecurityPolicy, slot *format.KeySlot, password string) error {
	depth := int(policy.PasswordHistoryDepth)
	if depth == 0 {
		slot.PasswordHistory = nil
		return nil
	}
	entry, err := history.HashPassword(password, int(policy.PBKDF2Iterations))
	if err != nil {
		return err
	}
	slot.PasswordHistory = history.AddToHistory(slot.PasswordHistory, entry, depth)
	return nil
}

func checkPasswordLength(policy *format.VaultSecurityPolicy, password string) error {
	if n := len([]rune(password)); n < int(policy.MinPasswordLength) || n == 0 {
		return fmt.Errorf("%w: need at least %d characters", ErrPasswordTooShort, max(policy.MinPasswordLength, 1))
	}
	return nil
}

func checkPolicyAlgorithms(policy *format.VaultSecurityPolicy, kek keywrap.KEKAlgorithm) error {
	info, ok := policy.UsernameHashAlgorithm.Info()
	if !ok {
		return fmt.Errorf("%w: %d", format.ErrUnknownHashAlgorithm, uint8(policy.UsernameHashAlgorithm))
	}
	if policy.FIPSMode && !info.FIPSApproved {
		return fmt.Errorf("%w: %s is not allowed in FIPS mode", ErrPolicyViolation, info.Name)
	}
	if _, ok := kek.Info(); !ok {
		return fmt.Errorf("%w: %d", keywrap.ErrUnknownAlgorithm, uint8(kek))
	}
	return nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
