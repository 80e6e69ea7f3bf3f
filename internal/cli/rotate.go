package cli

import (
	"fmt"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/keeptower/keeptower/internal/config"
	"github.com/keeptower/keeptower/internal/vault"
)

// NewPasswdCommand creates the passwd command. A nil conf uses the loaded
// configuration.
func NewPasswdCommand(conf *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:     "passwd",
		Aliases: []string{"rotate-master-key"},
		Short:   "Change your vault password",
		Long: `Change the password you open the vault with.

On a single-user vault this re-derives the vault key from the new master
password and rewrites the file. On a multi-user vault only your own key slot
is rewrapped; the new password must satisfy the vault policy and must not
be one of your recently used passwords.

Example:
  keeptower passwd
  keeptower passwd --user alice`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPasswd(cmd, resolveConfig(conf))
		},
	}
}

func runPasswd(cmd *cobra.Command, conf *config.Config) error {
	s, current, err := openSessionPassword(cmd, conf)
	if err != nil {
		return err
	}
	defer s.close()

	next, err := PromptPasswordConfirm("New password: ")
	if err != nil {
		return err
	}

	if s.m.IsV2() {
		err = s.m.ChangeUserPassword(s.user, current, next)
	} else {
		if n := conf.Security.MinPasswordLength; utf8.RuneCountInString(next) < n {
			return fmt.Errorf("%w: at least %d characters required", vault.ErrPasswordTooShort, n)
		}
		err = s.m.ChangeMasterPassword(current, next)
	}
	s.record("passwd", "", err)
	if err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}

	return writeOutput(cmd.OutOrStdout(), "✓ Password changed\n")
}
