package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keeptower/keeptower/internal/config"
	"github.com/keeptower/keeptower/internal/domain"
	"github.com/keeptower/keeptower/internal/format"
	"github.com/keeptower/keeptower/internal/keywrap"
	"github.com/keeptower/keeptower/internal/store"
	"github.com/keeptower/keeptower/internal/util"
	"github.com/keeptower/keeptower/internal/vault"
)

// session is one open vault held for the duration of a command. The vault
// lock file is held from open to close.
type session struct {
	m       *vault.Manager
	conf    *config.Config
	path    string
	user    string
	lock    *store.FileLock
	journal *store.Journal
}

func managerOptions(conf *config.Config) []vault.Option {
	return []vault.Option{
		vault.WithLogger(cliLogger()),
		vault.WithBackups(conf.Backup.Enabled, conf.Backup.Count),
		vault.WithFEC(conf.FEC.Enabled, conf.FEC.Redundancy),
		vault.WithKEKAlgorithm(kekAlgorithm(conf)),
	}
}

func kekAlgorithm(conf *config.Config) keywrap.KEKAlgorithm {
	if strings.EqualFold(conf.Security.KEKAlgorithm, "argon2id") {
		return keywrap.KEKArgon2id
	}
	return keywrap.KEKPBKDF2SHA256
}

// lockVault takes the advisory lock and opens the audit journal for path.
func lockVault(conf *config.Config, path, user string) (*session, error) {
	lock := store.NewFileLock(path)
	if err := lock.Lock(conf.LockTimeout); err != nil {
		return nil, fmt.Errorf("failed to lock vault: %w", err)
	}

	s := &session{
		m:    vault.NewManager(managerOptions(conf)...),
		conf: conf,
		path: path,
		user: user,
		lock: lock,
	}

	if conf.Audit.Enabled && conf.Audit.Path != "" {
		j, err := store.OpenJournal(conf.Audit.Path)
		if err != nil {
			cliLogger().Warn().Err(err).Msg("audit journal unavailable")
		} else {
			s.journal = j
		}
	}
	return s, nil
}

// openSession locks and opens the configured vault, prompting for the
// password. Multi-user vaults need --user.
func openSession(cmd *cobra.Command, conf *config.Config) (*session, error) {
	s, _, err := openSessionPassword(cmd, conf)
	return s, err
}

// openSessionPassword is openSession that also returns the password the
// vault was opened with.
func openSessionPassword(cmd *cobra.Command, conf *config.Config) (*session, string, error) {
	path := currentVaultPath(conf)

	version, err := vault.DetectVaultVersion(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("no vault at %s, run 'keeptower init' first", path)
		}
		return nil, "", fmt.Errorf("failed to read vault: %w", err)
	}

	switch {
	case version == format.VersionV2 && username == "":
		return nil, "", util.WrapError(util.ErrInvalidInput, "multi-user vault requires --user")
	case version == format.VersionV1 && username != "":
		return nil, "", fmt.Errorf("%w: --user applies to multi-user vaults only", vault.ErrWrongVersion)
	}

	s, err := lockVault(conf, path, username)
	if err != nil {
		return nil, "", err
	}

	password, err := readPassword("Password: ")
	if err != nil {
		s.close()
		return nil, "", err
	}

	if version == format.VersionV2 {
		err = s.m.OpenVaultV2(path, username, password, "")
	} else {
		err = s.m.OpenVault(path, password)
	}
	s.record("open", "", err)
	if err != nil {
		s.close()
		return nil, "", err
	}

	if s.m.MustChangePassword() {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: your password was reset by an administrator, change it with 'keeptower passwd'")
	}
	return s, password, nil
}

// record appends an audit entry. Journal failures never fail the command.
func (s *session) record(op, accountID string, err error) {
	if s.journal == nil {
		return
	}
	entry := &domain.Operation{
		Type:      op,
		Vault:     s.path,
		User:      s.user,
		AccountID: accountID,
		Success:   err == nil,
	}
	if jerr := s.journal.LogOperation(entry); jerr != nil {
		cliLogger().Warn().Err(jerr).Str("op", op).Msg("failed to write audit entry")
	}
}

// save writes the vault and records op.
func (s *session) save(op, accountID string) error {
	err := s.m.SaveVault()
	s.record(op, accountID, err)
	if err != nil {
		return fmt.Errorf("failed to save vault: %w", err)
	}
	return nil
}

func (s *session) close() {
	if err := s.m.CloseVault(); err != nil {
		cliLogger().Warn().Err(err).Msg("failed to close vault")
	}
	if s.journal != nil {
		if s.conf.Audit.MaxEntries > 0 {
			if _, err := s.journal.Prune(s.conf.Audit.MaxEntries); err != nil {
				cliLogger().Warn().Err(err).Msg("failed to prune audit journal")
			}
		}
		if err := s.journal.Close(); err != nil {
			cliLogger().Warn().Err(err).Msg("failed to close audit journal")
		}
		s.journal = nil
	}
	if err := s.lock.Unlock(); err != nil && !errors.Is(err, store.ErrLockNotHeld) {
		cliLogger().Warn().Err(err).Msg("failed to release vault lock")
	}
}

// findAccount resolves ref as an account id, then as a case-insensitive
// account name.
func findAccount(m *vault.Manager, ref string) (domain.AccountRecord, error) {
	rec, err := m.GetAccountByID(ref)
	if err == nil || !errors.Is(err, vault.ErrAccountNotFound) {
		return rec, err
	}

	all, err := m.GetAllAccounts()
	if err != nil {
		return domain.AccountRecord{}, err
	}
	var matches []domain.AccountRecord
	for _, a := range all {
		if strings.EqualFold(a.AccountName, ref) {
			matches = append(matches, a)
		}
	}
	switch len(matches) {
	case 0:
		return domain.AccountRecord{}, fmt.Errorf("%w: %s", vault.ErrAccountNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return domain.AccountRecord{}, util.WrapError(util.ErrInvalidInput,
			fmt.Sprintf("%d accounts are named %q, use the account id", len(matches), ref))
	}
}
