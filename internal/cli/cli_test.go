package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keeptower/keeptower/internal/config"
	"github.com/keeptower/keeptower/internal/store"
	"github.com/keeptower/keeptower/internal/util"
	"github.com/keeptower/keeptower/internal/vault"
)

const masterPassword = "correct horse battery"

type testEnv struct {
	dir  string
	path string
	conf *config.Config
}

// newTestEnv returns a config pointing at a fresh temp directory, with KDF
// costs low enough for tests.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	conf := config.DefaultConfig()
	conf.VaultPath = filepath.Join(dir, "test.ktv")
	conf.LockTimeout = 200 * time.Millisecond
	conf.Security.PBKDF2Iterations = 1000
	conf.Security.MinPasswordLength = 8
	conf.KDF.Memory = 1024
	conf.KDF.Iterations = 1
	conf.KDF.Parallelism = 1
	conf.Audit.Path = filepath.Join(dir, "audit.db")

	t.Cleanup(func() {
		vaultPath = ""
		username = ""
		cfgFile = ""
	})

	return &testEnv{dir: dir, path: conf.VaultPath, conf: conf}
}

// stubPasswords answers password prompts with pws in order.
func stubPasswords(t *testing.T, pws ...string) {
	t.Helper()
	original := readPassword
	readPassword = func(string) (string, error) {
		if len(pws) == 0 {
			return "", errors.New("unexpected password prompt")
		}
		pw := pws[0]
		pws = pws[1:]
		return pw, nil
	}
	t.Cleanup(func() { readPassword = original })
}

// stubLines answers line prompts with lines in order.
func stubLines(t *testing.T, lines ...string) {
	t.Helper()
	original := readLine
	readLine = func(string) (string, error) {
		if len(lines) == 0 {
			return "", errors.New("unexpected prompt")
		}
		l := lines[0]
		lines = lines[1:]
		return l, nil
	}
	t.Cleanup(func() { readLine = original })
}

func run(cmd *cobra.Command, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (e *testEnv) initV1(t *testing.T) {
	t.Helper()
	stubPasswords(t, masterPassword, masterPassword)
	out, _, err := run(NewInitCommand(e.conf))
	require.NoError(t, err)
	require.Contains(t, out, "Vault created at "+e.path)
}

func (e *testEnv) addAccount(t *testing.T, name, password string, args ...string) {
	t.Helper()
	stubPasswords(t, masterPassword, password)
	out, _, err := run(NewAddCommand(e.conf), append([]string{name}, args...)...)
	require.NoError(t, err)
	require.Contains(t, out, "Added account '"+name+"'")
}

func TestInitAndStatus(t *testing.T) {
	env := newTestEnv(t)
	env.initV1(t)

	stubPasswords(t, masterPassword)
	out, _, err := run(NewStatusCommand(env.conf))
	require.NoError(t, err)
	assert.Contains(t, out, "Format:         V1")
	assert.Contains(t, out, "Accounts:       0")

	stubPasswords(t, masterPassword, masterPassword)
	_, _, err = run(NewInitCommand(env.conf))
	assert.ErrorIs(t, err, vault.ErrVaultExists)
}

func TestInitRejectsBadPasswords(t *testing.T) {
	env := newTestEnv(t)

	stubPasswords(t, "short", "short")
	_, _, err := run(NewInitCommand(env.conf))
	require.ErrorIs(t, err, vault.ErrPasswordTooShort)
	assert.Equal(t, util.ExitInvalidInput, util.ExitCode(err))

	stubPasswords(t, masterPassword, "something else")
	_, _, err = run(NewInitCommand(env.conf))
	require.Error(t, err)

	_, err = os.Stat(env.path)
	assert.True(t, os.IsNotExist(err), "no vault should be written")
}

func TestInitFlagValidation(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := run(NewInitCommand(env.conf), "--fips")
	assert.Equal(t, util.ExitInvalidInput, util.ExitCode(err))

	_, _, err = run(NewInitCommand(env.conf), "--multi-user")
	assert.Equal(t, util.ExitInvalidInput, util.ExitCode(err))

	username = "alice"
	_, _, err = run(NewInitCommand(env.conf))
	assert.Equal(t, util.ExitInvalidInput, util.ExitCode(err))
}

func TestAccountLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.initV1(t)
	env.addAccount(t, "GitHub", "gh-secret-1", "--username", "octocat", "--tags", "work,dev", "--id", "gh")
	env.addAccount(t, "Bank", "bank-secret", "--favorite")

	stubPasswords(t, masterPassword)
	out, _, err := run(NewGetCommand(env.conf), "github", "--field", "username")
	require.NoError(t, err)
	assert.Equal(t, "octocat\n", out)

	stubPasswords(t, masterPassword)
	out, _, err = run(NewGetCommand(env.conf), "gh")
	require.NoError(t, err)
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, "gh-secret-1")

	stubPasswords(t, masterPassword)
	out, _, err = run(NewGetCommand(env.conf), "gh", "--show")
	require.NoError(t, err)
	assert.Contains(t, out, "gh-secret-1")

	stubPasswords(t, masterPassword)
	out, _, err = run(NewListCommand(env.conf))
	require.NoError(t, err)
	assert.Contains(t, out, "GitHub")
	assert.Contains(t, out, "Bank")
	assert.Contains(t, out, "Found 2 accounts")

	stubPasswords(t, masterPassword)
	out, _, err = run(NewListCommand(env.conf), "--json", "--tags", "work")
	require.NoError(t, err)
	var entries []listEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "gh", entries[0].ID)
	assert.Equal(t, "octocat", entries[0].Username)

	stubPasswords(t, masterPassword)
	out, _, err = run(NewListCommand(env.conf), "--favorites")
	require.NoError(t, err)
	assert.Contains(t, out, "Bank")
	assert.NotContains(t, out, "GitHub")

	stubPasswords(t, masterPassword)
	out, _, err = run(NewDeleteCommand(env.conf), "Bank", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Account 'Bank' deleted")

	stubPasswords(t, masterPassword)
	_, _, err = run(NewGetCommand(env.conf), "Bank")
	require.ErrorIs(t, err, vault.ErrAccountNotFound)
	assert.Equal(t, util.ExitInvalidInput, util.ExitCode(err))
}

func TestDeleteCancelled(t *testing.T) {
	env := newTestEnv(t)
	env.initV1(t)
	env.addAccount(t, "Mail", "mail-secret")

	stubPasswords(t, masterPassword)
	stubLines(t, "n")
	out, _, err := run(NewDeleteCommand(env.conf), "Mail")
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")

	stubPasswords(t, masterPassword)
	_, _, err = run(NewGetCommand(env.conf), "Mail")
	assert.NoError(t, err)
}

func TestAddDuplicateID(t *testing.T) {
	env := newTestEnv(t)
	env.initV1(t)
	env.addAccount(t, "One", "first-secret", "--id", "same")

	stubPasswords(t, masterPassword, "second-secret")
	_, _, err := run(NewAddCommand(env.conf), "Two", "--id", "same")
	require.ErrorIs(t, err, vault.ErrDuplicateID)
}

func TestAddFromSecretFile(t *testing.T) {
	env := newTestEnv(t)
	env.initV1(t)

	secret := filepath.Join(env.dir, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("from-a-file\n"), 0o600))

	stubPasswords(t, masterPassword)
	_, _, err := run(NewAddCommand(env.conf), "Server", "--secret-file", secret)
	require.NoError(t, err)

	stubPasswords(t, masterPassword)
	out, _, err := run(NewGetCommand(env.conf), "Server", "--field", "password", "--show")
	require.NoError(t, err)
	assert.Equal(t, "from-a-file\n", out)
}

func TestUpdateKeepsPasswordHistory(t *testing.T) {
	env := newTestEnv(t)
	env.initV1(t)
	env.addAccount(t, "Mail", "old-secret", "--tags", "personal")

	stubPasswords(t, masterPassword, "new-secret")
	out, _, err := run(NewUpdateCommand(env.conf), "Mail", "--password", "--add-tag", "email",
		"--set-field", "pin=1234", "--name", "Webmail")
	require.NoError(t, err)
	assert.Contains(t, out, "Updated account 'Webmail'")

	stubPasswords(t, masterPassword)
	out, _, err = run(NewGetCommand(env.conf), "webmail", "--show")
	require.NoError(t, err)
	assert.Contains(t, out, "new-secret")
	assert.Contains(t, out, "Previous passwords: 1")
	assert.Contains(t, out, "email")

	stubPasswords(t, masterPassword)
	out, _, err = run(NewGetCommand(env.conf), "webmail", "--field", "pin")
	require.NoError(t, err)
	assert.Equal(t, "1234\n", out)

	stubPasswords(t, masterPassword)
	out, _, err = run(NewUpdateCommand(env.conf), "webmail")
	require.NoError(t, err)
	assert.Contains(t, out, "No changes")
}

func TestRotateAccountPassword(t *testing.T) {
	env := newTestEnv(t)
	env.initV1(t)
	env.addAccount(t, "API", "api-secret")

	stubPasswords(t, masterPassword)
	out, _, err := run(NewRotatePasswordCommand(env.conf), "API", "--show", "--length", "32", "--charset", "alnum")
	require.NoError(t, err)
	assert.Contains(t, out, "Rotated password for 'API'")

	var rotated string
	for _, line := range strings.Split(out, "\n") {
		if p, ok := strings.CutPrefix(line, "New password: "); ok {
			rotated = p
		}
	}
	require.Len(t, rotated, 32)

	stubPasswords(t, masterPassword)
	out, _, err = run(NewGetCommand(env.conf), "API", "--field", "password", "--show")
	require.NoError(t, err)
	assert.Equal(t, rotated+"\n", out)
}

func TestGroups(t *testing.T) {
	env := newTestEnv(t)
	env.initV1(t)
	env.addAccount(t, "GitHub", "gh-secret-1")
	env.addAccount(t, "GitLab", "gl-secret-1")

	stubPasswords(t, masterPassword)
	out, _, err := run(NewGroupCommand(env.conf), "create", "Work")
	require.NoError(t, err)
	assert.Contains(t, out, "Created group 'Work'")

	stubPasswords(t, masterPassword)
	_, _, err = run(NewGroupCommand(env.conf), "add", "GitHub", "work")
	require.NoError(t, err)

	stubPasswords(t, masterPassword)
	out, _, err = run(NewListCommand(env.conf), "--group", "Work")
	require.NoError(t, err)
	assert.Contains(t, out, "GitHub")
	assert.NotContains(t, out, "GitLab")

	stubPasswords(t, masterPassword)
	out, _, err = run(NewGroupCommand(env.conf), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Work")

	stubPasswords(t, masterPassword)
	_, _, err = run(NewGroupCommand(env.conf), "remove", "GitHub", "Work")
	require.NoError(t, err)

	stubPasswords(t, masterPassword)
	_, _, err = run(NewGroupCommand(env.conf), "delete", "Work")
	require.NoError(t, err)

	stubPasswords(t, masterPassword)
	out, _, err = run(NewGroupCommand(env.conf), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No groups")

	stubPasswords(t, masterPassword)
	_, _, err = run(NewGroupCommand(env.conf), "add", "GitHub", "Missing")
	assert.ErrorIs(t, err, vault.ErrGroupNotFound)
}

func TestWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.initV1(t)

	stubPasswords(t, "not the password")
	_, _, err := run(NewStatusCommand(env.conf))
	require.ErrorIs(t, err, vault.ErrAuthenticationFailed)
	assert.Equal(t, util.ExitAuthFailed, util.ExitCode(err))
}

func TestMissingVault(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := run(NewStatusCommand(env.conf))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keeptower init")
}

func TestLockedVault(t *testing.T) {
	env := newTestEnv(t)
	env.initV1(t)

	lock := store.NewFileLock(env.path)
	require.NoError(t, lock.Lock(time.Second))
	t.Cleanup(func() { _ = lock.Unlock() })

	_, _, err := run(NewStatusCommand(env.conf))
	require.Error(t, err)
	assert.Equal(t, util.ExitVaultLocked, util.ExitCode(err))
}

func TestMultiUserFlow(t *testing.T) {
	env := newTestEnv(t)
	const (
		adminPassword = "alice-password"
		tempPassword  = "temporary-1"
		bobPassword   = "bob-password-2"
	)

	username = "alice"
	stubPasswords(t, adminPassword, adminPassword)
	out, stderr, err := run(NewInitCommand(env.conf), "--multi-user", "--username-hash", "plaintext")
	require.NoError(t, err)
	assert.Contains(t, out, "Multi-user vault created")
	assert.Contains(t, stderr, "[1/")

	stubPasswords(t, adminPassword, tempPassword, tempPassword)
	out, _, err = run(NewUserCommand(env.conf), "add", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "Added standard user 'bob'")

	stubPasswords(t, adminPassword)
	out, _, err = run(NewUserCommand(env.conf), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "must-change")

	username = "bob"
	stubPasswords(t, tempPassword)
	out, stderr, err = run(NewStatusCommand(env.conf))
	require.NoError(t, err)
	assert.Contains(t, out, "Format:         V2")
	assert.Contains(t, out, "bob (standard)")
	assert.Contains(t, stderr, "keeptower passwd")

	stubPasswords(t, tempPassword, bobPassword, bobPassword)
	out, _, err = run(NewPasswdCommand(env.conf))
	require.NoError(t, err)
	assert.Contains(t, out, "Password changed")

	stubPasswords(t, bobPassword)
	_, stderr, err = run(NewStatusCommand(env.conf))
	require.NoError(t, err)
	assert.NotContains(t, stderr, "keeptower passwd")

	stubPasswords(t, bobPassword, "carol-password", "carol-password")
	_, _, err = run(NewUserCommand(env.conf), "add", "carol")
	require.ErrorIs(t, err, vault.ErrPermissionDenied)
	assert.Equal(t, util.ExitDenied, util.ExitCode(err))

	username = "alice"
	stubPasswords(t, adminPassword)
	_, _, err = run(NewUserCommand(env.conf), "remove", "alice", "--yes")
	require.Error(t, err)

	stubPasswords(t, adminPassword)
	out, _, err = run(NewUserCommand(env.conf), "remove", "bob", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed user 'bob'")

	username = "bob"
	stubPasswords(t, bobPassword)
	_, _, err = run(NewStatusCommand(env.conf))
	assert.Equal(t, util.ExitAuthFailed, util.ExitCode(err))
}

func TestMultiUserRequiresUser(t *testing.T) {
	env := newTestEnv(t)

	username = "alice"
	stubPasswords(t, "alice-password", "alice-password")
	_, _, err := run(NewInitCommand(env.conf), "--multi-user")
	require.NoError(t, err)

	username = ""
	_, _, err = run(NewStatusCommand(env.conf))
	assert.Equal(t, util.ExitInvalidInput, util.ExitCode(err))
}

func TestSingleUserRejectsUser(t *testing.T) {
	env := newTestEnv(t)
	env.initV1(t)

	username = "alice"
	_, _, err := run(NewStatusCommand(env.conf))
	assert.ErrorIs(t, err, vault.ErrWrongVersion)
}

func TestPasswdSingleUser(t *testing.T) {
	env := newTestEnv(t)
	env.initV1(t)

	stubPasswords(t, masterPassword, "short", "short")
	_, _, err := run(NewPasswdCommand(env.conf))
	require.ErrorIs(t, err, vault.ErrPasswordTooShort)

	stubPasswords(t, masterPassword, "a brand new password", "a brand new password")
	_, _, err = run(NewPasswdCommand(env.conf))
	require.NoError(t, err)

	stubPasswords(t, masterPassword)
	_, _, err = run(NewStatusCommand(env.conf))
	assert.ErrorIs(t, err, vault.ErrAuthenticationFailed)

	stubPasswords(t, "a brand new password")
	_, _, err = run(NewStatusCommand(env.conf))
	assert.NoError(t, err)
}

func TestDoctorReportsWeakIterations(t *testing.T) {
	env := newTestEnv(t)
	env.initV1(t)

	out, _, err := run(NewDoctorCommand(env.conf))
	require.ErrorIs(t, err, errUnhealthy)
	assert.Contains(t, out, "PBKDF2 iteration count 1000 is low")
}

func TestDoctorMissingVault(t *testing.T) {
	env := newTestEnv(t)

	out, _, err := run(NewDoctorCommand(env.conf))
	require.Error(t, err)
	assert.Contains(t, out, "Vault file not found")
}

func TestBackupListAndRestore(t *testing.T) {
	env := newTestEnv(t)

	out, _, err := run(NewBackupCommand(env.conf), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No backups")

	env.initV1(t)
	env.addAccount(t, "GitHub", "gh-secret-1")

	out, _, err = run(NewBackupCommand(env.conf), "list")
	require.NoError(t, err)
	assert.Contains(t, out, env.path+".backup.")

	out, _, err = run(NewBackupCommand(env.conf), "restore", "1", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored")

	stubPasswords(t, masterPassword)
	out, _, err = run(NewListCommand(env.conf))
	require.NoError(t, err)
	assert.Contains(t, out, "No accounts in this vault")

	_, _, err = run(NewBackupCommand(env.conf), "restore", "9", "--yes")
	assert.Equal(t, util.ExitInvalidInput, util.ExitCode(err))
}

func TestAuditJournal(t *testing.T) {
	env := newTestEnv(t)
	env.initV1(t)
	env.addAccount(t, "GitHub", "gh-secret-1", "--id", "gh")

	stubPasswords(t, "wrong password")
	_, _, err := run(NewStatusCommand(env.conf))
	require.Error(t, err)

	out, _, err := run(NewAuditCommand(env.conf))
	require.NoError(t, err)
	assert.Contains(t, out, "init")
	assert.Contains(t, out, "add")
	assert.Contains(t, out, "failed")
	assert.NotContains(t, out, "gh-secret-1")

	out, _, err = run(NewAuditCommand(env.conf), "--verify")
	require.NoError(t, err)
	assert.Contains(t, out, "intact")

	env.conf.Audit.Enabled = false
	_, _, err = run(NewAuditCommand(env.conf))
	assert.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	env := newTestEnv(t)
	cfgFile = filepath.Join(env.dir, "config.yaml")

	out, _, err := run(NewConfigCommand(env.conf), "set", "clipboard_ttl", "10s")
	require.NoError(t, err)
	assert.Contains(t, out, "clipboard_ttl = 10s")

	saved, err := config.LoadConfig(cfgFile)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, saved.ClipboardTTL)

	out, _, err = run(NewConfigCommand(env.conf), "get", "clipboard-ttl")
	require.NoError(t, err)
	assert.Equal(t, "10s\n", out)

	_, _, err = run(NewConfigCommand(env.conf), "set", "security.username_hash", "md5")
	assert.Error(t, err)

	_, _, err = run(NewConfigCommand(env.conf), "set", "backup.count", "many")
	assert.Error(t, err)

	_, _, err = run(NewConfigCommand(env.conf), "get", "no.such.key")
	assert.Error(t, err)

	out, _, err = run(NewConfigCommand(env.conf), "path")
	require.NoError(t, err)
	assert.Equal(t, cfgFile+"\n", out)
}

func TestFindAccountAmbiguousName(t *testing.T) {
	env := newTestEnv(t)
	env.initV1(t)
	env.addAccount(t, "Mail", "first-secret", "--id", "m1")
	env.addAccount(t, "mail", "second-secret", "--id", "m2")

	stubPasswords(t, masterPassword)
	_, _, err := run(NewGetCommand(env.conf), "MAIL")
	assert.Equal(t, util.ExitInvalidInput, util.ExitCode(err))

	stubPasswords(t, masterPassword)
	out, _, err := run(NewGetCommand(env.conf), "m2", "--field", "password", "--show")
	require.NoError(t, err)
	assert.Equal(t, "second-secret\n", out)
}
