// Package vault implements the vault session: creating and opening V1 and
// V2 vault files, account and group CRUD, multi-user key slot management and
// atomic saves with backup rotation.
package vault

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/keeptower/keeptower/internal/crypto"
	"github.com/keeptower/keeptower/internal/domain"
	"github.com/keeptower/keeptower/internal/format"
	"github.com/keeptower/keeptower/internal/keywrap"
	"github.com/keeptower/keeptower/internal/logger"
	"github.com/keeptower/keeptower/internal/store"
)

// ProgressFunc is called synchronously between the stages of a long
// operation. Returning an error aborts the operation.
type ProgressFunc func(stage string, step, total int) error

// Manager is one vault session. It is Closed after NewManager, Open after a
// successful create or open, and Closed again after CloseVault. All methods
// are safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	log           *logger.Logger
	now           func() time.Time
	token         keywrap.HardwareToken
	backupEnabled bool
	backupCount   int
	fecEnabled    bool
	fecRedundancy int
	kekAlgorithm  keywrap.KEKAlgorithm

	open    bool
	dirty   bool
	path    string
	version uint32
	payload *domain.VaultPayload

	// dek encrypts the payload. For V1 vaults it is the password-derived key.
	dek *crypto.SecureBuffer

	v1 *format.V1Header

	header *format.VaultHeaderV2
	slot   *format.KeySlot
	// username of the open slot, kept for hashed vaults.
	username string
	// tokenResponse is the hardware response captured at open, reused when
	// new slots are wrapped.
	tokenResponse *crypto.SecureBuffer
}

// NewManager returns a closed session.
func NewManager(opts ...Option) *Manager {
	m := &Manager{}
	defaultOptions(m)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsOpen reports whether a vault is open.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// IsDirty reports whether the open vault has unsaved changes.
func (m *Manager) IsDirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open && m.dirty
}

// IsV2 reports whether the open vault is a multi-user vault.
func (m *Manager) IsV2() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open && m.version == format.VersionV2
}

// Path returns the path of the open vault, or "" when closed.
func (m *Manager) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return ""
	}
	return m.path
}

// SecurityPolicy returns a copy of the open V2 vault's policy.
func (m *Manager) SecurityPolicy() (format.VaultSecurityPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireV2(); err != nil {
		return format.VaultSecurityPolicy{}, err
	}
	return m.header.Policy, nil
}

// Stats summarizes the open vault's payload.
type Stats struct {
	SchemaVersion uint32
	AccessCount   uint64
	CreatedAt     time.Time
	ModifiedAt    time.Time
	Accounts      int
	Groups        int
}

// Stats returns payload metadata of the open vault.
func (m *Manager) Stats() (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireOpen(); err != nil {
		return Stats{}, err
	}
	p := m.payload
	return Stats{
		SchemaVersion: p.SchemaVersion,
		AccessCount:   p.AccessCount,
		CreatedAt:     time.Unix(p.CreatedAt, 0),
		ModifiedAt:    time.Unix(p.ModifiedAt, 0),
		Accounts:      len(p.Accounts),
		Groups:        len(p.Groups),
	}, nil
}

// MustChangePassword reports whether the logged-in user holds a temporary
// password that must be replaced.
func (m *Manager) MustChangePassword() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open && m.slot != nil && m.slot.MustChangePassword
}

// SaveVault writes the open vault atomically, after taking a backup of the
// previous file when backups are enabled.
func (m *Manager) SaveVault() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return ErrVaultClosed
	}
	return m.save()
}

// CloseVault wipes all key material and returns to the Closed state. Closing
// a closed manager is a no-op.
func (m *Manager) CloseVault() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open && m.dirty {
		m.log.Warn().Str("path", m.path).Msg("closing vault with unsaved changes")
	}
	m.reset()
	return nil
}

// ListBackups returns the backups of path, newest first.
func (m *Manager) ListBackups(path string) ([]store.Backup, error) {
	return store.ListBackups(path)
}

// RestoreBackup replaces path with backupPath. The vault must not be open in
// this session.
func (m *Manager) RestoreBackup(path, backupPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		return ErrVaultAlreadyOpen
	}
	if err := store.RestoreBackup(path, backupPath); err != nil {
		return err
	}
	m.log.Info().Str("path", path).Str("backup", backupPath).Msg("vault restored from backup")
	return nil
}

// DetectVaultVersion reports whether the file at path is a V1 (including
// header-less legacy) or V2 vault.
func DetectVaultVersion(path string) (uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	version, err := format.DetectVersion(data)
	if errors.Is(err, format.ErrInvalidMagic) {
		if _, _, err := format.ReadV1(data); err != nil {
			return 0, err
		}
		return format.VersionV1, nil
	}
	return version, err
}

// save assumes m.mu is held and the vault is open.
func (m *Manager) save() error {
	m.payload.ModifiedAt = m.now().Unix()

	plain, err := domain.MarshalPayload(m.payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	defer crypto.Zeroize(plain)

	var data []byte
	if m.version == format.VersionV2 {
		data, err = m.encodeV2(plain)
	} else {
		data, err = m.encodeV1(plain)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	if m.backupEnabled {
		m.rotateBackups()
	}

	if err := store.AtomicWriteFile(m.path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	m.dirty = false
	m.log.Debug().Str("path", m.path).Int("bytes", len(data)).Msg("vault saved")
	return nil
}

func (m *Manager) rotateBackups() {
	backup, err := store.CreateBackup(m.path, m.now())
	if err != nil {
		m.log.Warn().Err(err).Str("path", m.path).Msg("backup failed, saving anyway")
		return
	}
	if backup == "" {
		return
	}
	removed, err := store.PruneBackups(m.path, m.backupCount)
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to prune old backups")
	}
	m.log.Debug().Str("backup", backup).Int("pruned", len(removed)).Msg("backup written")
}

// activate moves the manager to Open with the given key and payload.
func (m *Manager) activate(path string, version uint32, dek []byte, payload *domain.VaultPayload) {
	sb, err := crypto.NewSecureBuffer(dek)
	if err != nil {
		m.log.Warn().Err(err).Msg("could not lock key memory; continuing unpinned")
	}
	crypto.Zeroize(dek)

	m.dek = sb
	m.path = path
	m.version = version
	m.payload = payload
	m.open = true
}

// destroyKey wipes sb. An unpin failure leaves nothing to recover, so it is
// only logged.
func (m *Manager) destroyKey(sb *crypto.SecureBuffer, what string) {
	if err := sb.Destroy(); err != nil {
		m.log.Warn().Err(err).Msgf("failed to unlock %s memory", what)
	}
}

// reset wipes every secret the session holds.
func (m *Manager) reset() {
	m.destroyKey(m.dek, "key")
	m.destroyKey(m.tokenResponse, "token response")
	m.dek = nil
	m.tokenResponse = nil

	if m.payload != nil {
		for i := range m.payload.Accounts {
			m.payload.Accounts[i] = domain.AccountRecord{}
		}
	}
	m.payload = nil
	m.v1 = nil
	m.header = nil
	m.slot = nil
	m.username = ""
	m.path = ""
	m.version = 0
	m.open = false
	m.dirty = false
}

// migrate brings a freshly decrypted payload up to date. Only a schema bump
// or a missing creation time makes the vault dirty.
func (m *Manager) migrate() {
	p := m.payload
	p.AccessCount++
	if p.SchemaVersion < domain.CurrentSchemaVersion {
		m.log.Info().Uint32("from", p.SchemaVersion).Uint32("to", domain.CurrentSchemaVersion).Msg("migrating vault schema")
		p.SchemaVersion = domain.CurrentSchemaVersion
		m.dirty = true
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = m.now().Unix()
		m.dirty = true
	}
}

func (m *Manager) checkCreate(path string) error {
	if m.open {
		return ErrVaultAlreadyOpen
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrVaultExists, path)
	}
	return nil
}

func (m *Manager) requireOpen() error {
	if !m.open {
		return ErrVaultClosed
	}
	return nil
}

func (m *Manager) requireV2() error {
	if !m.open {
		return ErrVaultClosed
	}
	if m.version != format.VersionV2 {
		return fmt.Errorf("%w: requires a multi-user vault", ErrWrongVersion)
	}
	return nil
}

// isAdmin reports whether the session user is an administrator. V1 vaults
// have a single, all-powerful user.
func (m *Manager) isAdmin() bool {
	return m.slot == nil || m.slot.Role == format.RoleAdministrator
}

func newPayload(now int64) *domain.VaultPayload {
	return &domain.VaultPayload{
		SchemaVersion: domain.CurrentSchemaVersion,
		CreatedAt:     now,
		ModifiedAt:    now,
	}
}

func progress(fn ProgressFunc, stage string, step, total int) error {
	if fn == nil {
		return nil
	}
	if err := fn(stage, step, total); err != nil {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}
	return nil
}
