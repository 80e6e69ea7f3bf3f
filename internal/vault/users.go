package vault

import (
	"fmt"
	"slices"
	"strings"

	"github.com/keeptower/keeptower/internal/crypto"
	"github.com/keeptower/keeptower/internal/format"
	"github.com/keeptower/keeptower/internal/history"
)

// UserInfo describes a key slot without exposing key material. Username is
// empty for hashed slots other than the session's own.
type UserInfo struct {
	Username           string
	Role               format.UserRole
	MustChangePassword bool
	PasswordChangedAt  int64
	LastLoginAt        int64
	HashedUsername     bool
	Current            bool
}

// AddUser creates a key slot for username. Only administrators may add
// users. With mustChange set the user has to pick a new password after the
// first login. The vault is saved before returning.
func (m *Manager) AddUser(username, password string, role format.UserRole, mustChange bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireAdmin(); err != nil {
		return err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrInvalidUsername
	}
	if role != format.RoleAdministrator && role != format.RoleStandard {
		return fmt.Errorf("%w: role %d", format.ErrInvalidKeySlot, uint8(role))
	}

	h := m.header
	if findSlot(h, username) != nil {
		return fmt.Errorf("%w: %s", ErrUserExists, username)
	}
	if len(h.KeySlots) >= format.MaxKeySlots {
		return fmt.Errorf("%w: limit is %d", format.ErrTooManySlots, format.MaxKeySlots)
	}
	if err := checkPasswordLength(&h.Policy, password); err != nil {
		return err
	}
	response, err := m.sessionResponse()
	if err != nil {
		return err
	}

	slot, err := m.newSlot(&h.Policy, username, password, role, m.dek.Bytes(), response)
	if err != nil {
		return err
	}
	slot.MustChangePassword = mustChange

	h.KeySlots = append(h.KeySlots, slot)
	if err := m.save(); err != nil {
		h.KeySlots = h.KeySlots[:len(h.KeySlots)-1]
		return err
	}

	m.log.Info().Str("role", role.String()).Bool("must_change_password", mustChange).Msg("user added")
	return nil
}

// RemoveUser deletes username's key slot. The last administrator and the
// session's own slot cannot be removed. The vault is saved before
// returning.
func (m *Manager) RemoveUser(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireAdmin(); err != nil {
		return err
	}
	h := m.header
	slot := findSlot(h, username)
	if slot == nil {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if slot.Role == format.RoleAdministrator && m.adminCount() <= 1 {
		return ErrLastAdmin
	}
	if slot == m.slot {
		return fmt.Errorf("%w: cannot remove the logged-in user", ErrPermissionDenied)
	}

	prev := slices.Clone(h.KeySlots)
	h.KeySlots = slices.DeleteFunc(h.KeySlots, func(s *format.KeySlot) bool { return s == slot })
	if err := m.save(); err != nil {
		h.KeySlots = prev
		return err
	}

	m.log.Info().Str("role", slot.Role.String()).Msg("user removed")
	return nil
}

// ListUsers describes every active key slot.
func (m *Manager) ListUsers() ([]UserInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireV2(); err != nil {
		return nil, err
	}
	out := make([]UserInfo, 0, len(m.header.KeySlots))
	for _, slot := range m.header.KeySlots {
		if slot.Active {
			out = append(out, m.userInfo(slot))
		}
	}
	return out, nil
}

// CurrentUser describes the session's own key slot.
func (m *Manager) CurrentUser() (UserInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireV2(); err != nil {
		return UserInfo{}, err
	}
	return m.userInfo(m.slot), nil
}

// ChangeUserPassword re-wraps the session user's DEK copy under
// newPassword. oldPassword must unlock the slot, and newPassword must not
// appear in the slot's password history. The vault is saved before
// returning.
func (m *Manager) ChangeUserPassword(username, oldPassword, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireV2(); err != nil {
		return err
	}
	h := m.header
	slot := findSlot(h, username)
	if slot == nil {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if slot != m.slot {
		return fmt.Errorf("%w: use an administrator reset for other users", ErrPermissionDenied)
	}
	if err := checkPasswordLength(&h.Policy, newPassword); err != nil {
		return err
	}

	response, err := m.sessionResponse()
	if err != nil {
		return err
	}
	dek, err := m.unwrapSlot(&h.Policy, slot, oldPassword, response)
	if err != nil {
		return err
	}
	crypto.Zeroize(dek)

	depth := int(h.Policy.PasswordHistoryDepth)
	if depth > 0 && history.IsPasswordReused(newPassword, slot.PasswordHistory, int(h.Policy.PBKDF2Iterations)) {
		return ErrPasswordReused
	}

	prev := *slot
	prev.PasswordHistory = slices.Clone(slot.PasswordHistory)

	if err := m.wrapIntoSlot(&h.Policy, slot, newPassword, m.dek.Bytes(), response); err != nil {
		*slot = prev
		return err
	}
	if err := recordHistory(&h.Policy, slot, newPassword); err != nil {
		*slot = prev
		return err
	}
	slot.MustChangePassword = false
	slot.PasswordChangedAt = m.now().Unix()

	if err := m.save(); err != nil {
		*slot = prev
		return err
	}

	m.log.Info().Int("history_depth", depth).Msg("user password changed")
	return nil
}

// AdminResetUserPassword sets a temporary password for another user. The
// target's password history is cleared and it must change the password on
// next login. The vault is saved before returning.
func (m *Manager) AdminResetUserPassword(username, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireAdmin(); err != nil {
		return err
	}
	h := m.header
	slot := findSlot(h, username)
	if slot == nil {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if err := checkPasswordLength(&h.Policy, newPassword); err != nil {
		return err
	}
	response, err := m.sessionResponse()
	if err != nil {
		return err
	}

	prev := *slot
	if err := m.wrapIntoSlot(&h.Policy, slot, newPassword, m.dek.Bytes(), response); err != nil {
		*slot = prev
		return err
	}
	slot.PasswordHistory = nil
	slot.MustChangePassword = slot != m.slot
	slot.PasswordChangedAt = m.now().Unix()

	if err := m.save(); err != nil {
		*slot = prev
		return err
	}

	m.log.Info().Str("role", slot.Role.String()).Msg("user password reset by administrator")
	return nil
}

func (m *Manager) requireAdmin() error {
	if err := m.requireV2(); err != nil {
		return err
	}
	if !m.isAdmin() {
		return fmt.Errorf("%w: administrator role required", ErrPermissionDenied)
	}
	return nil
}

func (m *Manager) adminCount() int {
	n := 0
	for _, s := range m.header.KeySlots {
		if s.Active && s.Role == format.RoleAdministrator {
			n++
		}
	}
	return n
}

// sessionResponse returns the hardware response captured at open for
// wrapping new slots of a token-protected vault.
func (m *Manager) sessionResponse() ([]byte, error) {
	if !m.header.Policy.RequireYubiKey {
		return nil, nil
	}
	if m.tokenResponse == nil {
		return nil, fmt.Errorf("%w: session was opened without the hardware token", ErrYubiKey)
	}
	return m.tokenResponse.Bytes(), nil
}

func (m *Manager) userInfo(slot *format.KeySlot) UserInfo {
	info := UserInfo{
		Username:           slot.Username,
		Role:               slot.Role,
		MustChangePassword: slot.MustChangePassword,
		PasswordChangedAt:  slot.PasswordChangedAt,
		LastLoginAt:        slot.LastLoginAt,
		HashedUsername:     slot.Hashed(),
		Current:            slot == m.slot,
	}
	if info.Current {
		info.Username = m.username
	}
	return info
}
