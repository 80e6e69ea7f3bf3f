package vault

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/keeptower/keeptower/internal/domain"
)

// CreateGroup adds a group named name and returns its id. An empty id is
// replaced by a random UUID.
func (m *Manager) CreateGroup(id, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOpen(); err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	if id == "" {
		id = uuid.NewString()
	}
	if m.groupIndex(id) >= 0 {
		return "", fmt.Errorf("%w: group %s", ErrDuplicateID, id)
	}

	m.payload.Groups = append(m.payload.Groups, domain.Group{
		ID:           id,
		Name:         name,
		DisplayOrder: int32(len(m.payload.Groups)),
	})
	m.dirty = true
	return id, nil
}

// DeleteGroup removes the group and every account reference to it.
func (m *Manager) DeleteGroup(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOpen(); err != nil {
		return err
	}
	i := m.groupIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}

	m.payload.Groups = slices.Delete(m.payload.Groups, i, i+1)
	for j := range m.payload.Accounts {
		acc := &m.payload.Accounts[j]
		acc.GroupIDs = slices.DeleteFunc(acc.GroupIDs, func(g string) bool { return g == id })
	}
	m.dirty = true
	return nil
}

// GetGroups returns the groups ordered by display order.
func (m *Manager) GetGroups() ([]domain.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOpen(); err != nil {
		return nil, err
	}
	out := slices.Clone(m.payload.Groups)
	slices.SortStableFunc(out, func(a, b domain.Group) int {
		return int(a.DisplayOrder) - int(b.DisplayOrder)
	})
	return out, nil
}

// AddAccountToGroup links the account with accountID to groupID.
func (m *Manager) AddAccountToGroup(accountID, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, err := m.groupTarget(accountID, groupID)
	if err != nil {
		return err
	}
	if acc.InGroup(groupID) {
		return nil
	}
	acc.GroupIDs = append(acc.GroupIDs, groupID)
	acc.ModifiedAt = m.now().Unix()
	m.dirty = true
	return nil
}

// RemoveAccountFromGroup unlinks the account with accountID from groupID.
func (m *Manager) RemoveAccountFromGroup(accountID, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, err := m.groupTarget(accountID, groupID)
	if err != nil {
		return err
	}
	if !acc.InGroup(groupID) {
		return nil
	}
	acc.GroupIDs = slices.DeleteFunc(acc.GroupIDs, func(g string) bool { return g == groupID })
	acc.ModifiedAt = m.now().Unix()
	m.dirty = true
	return nil
}

func (m *Manager) groupTarget(accountID, groupID string) (*domain.AccountRecord, error) {
	if err := m.requireOpen(); err != nil {
		return nil, err
	}
	if m.groupIndex(groupID) < 0 {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	i, err := m.indexOf(accountID)
	if err != nil {
		return nil, err
	}
	acc := &m.payload.Accounts[i]
	if !m.canView(acc) {
		return nil, ErrPermissionDenied
	}
	return acc, nil
}

func (m *Manager) groupIndex(id string) int {
	return slices.IndexFunc(m.payload.Groups, func(g domain.Group) bool { return g.ID == id })
}
