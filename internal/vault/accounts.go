package vault

import (
	"fmt"

	"github.com/keeptower/keeptower/internal/domain"
)

// AddAccount appends rec. Missing timestamps are filled from the clock. The
// id is stored as given; uniqueness is the caller's concern.
func (m *Manager) AddAccount(rec domain.AccountRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOpen(); err != nil {
		return err
	}
	if (rec.AdminOnlyViewable || rec.AdminOnlyDeletable) && !m.isAdmin() {
		return fmt.Errorf("%w: only administrators can create restricted accounts", ErrPermissionDenied)
	}

	now := m.now().Unix()
	rec = rec.Clone()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	if rec.ModifiedAt == 0 {
		rec.ModifiedAt = now
	}
	if rec.PasswordChangedAt == 0 && rec.Password != "" {
		rec.PasswordChangedAt = now
	}

	m.payload.Accounts = append(m.payload.Accounts, rec)
	m.dirty = true
	m.log.Debug().Str("account_id", rec.ID).Msg("account added")
	return nil
}

// GetAccount returns a copy of the account at index.
func (m *Manager) GetAccount(index int) (domain.AccountRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.accountAt(index)
	if err != nil {
		return domain.AccountRecord{}, err
	}
	if !m.canView(rec) {
		return domain.AccountRecord{}, ErrPermissionDenied
	}
	return rec.Clone(), nil
}

// GetAllAccounts returns copies of every account visible to the session
// user, in storage order.
func (m *Manager) GetAllAccounts() ([]domain.AccountRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOpen(); err != nil {
		return nil, err
	}
	out := make([]domain.AccountRecord, 0, len(m.payload.Accounts))
	for i := range m.payload.Accounts {
		if m.canView(&m.payload.Accounts[i]) {
			out = append(out, m.payload.Accounts[i].Clone())
		}
	}
	return out, nil
}

// UpdateAccount replaces the account at index with rec. CreatedAt is kept
// from the stored record.
func (m *Manager) UpdateAccount(index int, rec domain.AccountRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.accountAt(index)
	if err != nil {
		return err
	}
	return m.replace(cur, rec)
}

// DeleteAccount removes the account at index.
func (m *Manager) DeleteAccount(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.accountAt(index); err != nil {
		return err
	}
	return m.remove(index)
}

// AccountCount returns the number of stored accounts.
func (m *Manager) AccountCount() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOpen(); err != nil {
		return 0, err
	}
	return len(m.payload.Accounts), nil
}

// FindAccount returns the index of the account with id.
func (m *Manager) FindAccount(id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOpen(); err != nil {
		return -1, err
	}
	return m.indexOf(id)
}

// GetAccountByID returns a copy of the account with id.
func (m *Manager) GetAccountByID(id string) (domain.AccountRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOpen(); err != nil {
		return domain.AccountRecord{}, err
	}
	i, err := m.indexOf(id)
	if err != nil {
		return domain.AccountRecord{}, err
	}
	rec := &m.payload.Accounts[i]
	if !m.canView(rec) {
		return domain.AccountRecord{}, ErrPermissionDenied
	}
	return rec.Clone(), nil
}

// UpdateAccountByID replaces the account with id.
func (m *Manager) UpdateAccountByID(id string, rec domain.AccountRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOpen(); err != nil {
		return err
	}
	i, err := m.indexOf(id)
	if err != nil {
		return err
	}
	return m.replace(&m.payload.Accounts[i], rec)
}

// DeleteAccountByID removes the account with id.
func (m *Manager) DeleteAccountByID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOpen(); err != nil {
		return err
	}
	i, err := m.indexOf(id)
	if err != nil {
		return err
	}
	return m.remove(i)
}

// SearchAccounts returns the visible accounts matching every token of
// query. An empty query matches everything.
func (m *Manager) SearchAccounts(query string) ([]domain.AccountRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOpen(); err != nil {
		return nil, err
	}
	tokens := ParseSearchTokens(query)

	var out []domain.AccountRecord
	for i := range m.payload.Accounts {
		rec := &m.payload.Accounts[i]
		if m.canView(rec) && MatchesSearchTokens(rec, tokens) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (m *Manager) accountAt(index int) (*domain.AccountRecord, error) {
	if err := m.requireOpen(); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(m.payload.Accounts) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	return &m.payload.Accounts[index], nil
}

func (m *Manager) indexOf(id string) (int, error) {
	for i := range m.payload.Accounts {
		if m.payload.Accounts[i].ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
}

func (m *Manager) replace(cur *domain.AccountRecord, rec domain.AccountRecord) error {
	if !m.isAdmin() && (cur.AdminOnlyViewable || rec.AdminOnlyViewable || rec.AdminOnlyDeletable != cur.AdminOnlyDeletable) {
		return ErrPermissionDenied
	}

	rec = rec.Clone()
	rec.CreatedAt = cur.CreatedAt
	rec.ModifiedAt = m.now().Unix()
	if rec.Password != cur.Password && rec.PasswordChangedAt == cur.PasswordChangedAt {
		rec.PasswordChangedAt = rec.ModifiedAt
	}
	*cur = rec

	m.dirty = true
	m.log.Debug().Str("account_id", rec.ID).Msg("account updated")
	return nil
}

func (m *Manager) remove(index int) error {
	rec := &m.payload.Accounts[index]
	if !m.isAdmin() && (rec.AdminOnlyViewable || rec.AdminOnlyDeletable) {
		return ErrPermissionDenied
	}
	id := rec.ID

	accounts := m.payload.Accounts
	copy(accounts[index:], accounts[index+1:])
	accounts[len(accounts)-1] = domain.AccountRecord{}
	m.payload.Accounts = accounts[:len(accounts)-1]

	m.dirty = true
	m.log.Debug().Str("account_id", id).Msg("account deleted")
	return nil
}

// canView hides admin-only records from standard users.
func (m *Manager) canView(rec *domain.AccountRecord) bool {
	return m.isAdmin() || !rec.AdminOnlyViewable
}
