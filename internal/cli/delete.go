package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keeptower/keeptower/internal/config"
)

// NewDeleteCommand creates the delete command. A nil conf uses the loaded
// configuration.
func NewDeleteCommand(conf *config.Config) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "delete <account>",
		Aliases: []string{"rm"},
		Short:   "Delete an account from the vault",
		Long: `Delete an account looked up by id or name. Accounts restricted to
administrators can only be deleted by an administrator.

Example:
  keeptower delete github
  keeptower delete 3f2c9a1e-... --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd, args[0], yes, resolveConfig(conf))
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")

	return cmd
}

func runDelete(cmd *cobra.Command, ref string, yes bool, conf *config.Config) error {
	s, err := openSession(cmd, conf)
	if err != nil {
		return err
	}
	defer s.close()

	rec, err := findAccount(s.m, ref)
	if err != nil {
		return err
	}

	ok, err := confirmDestructive(conf, yes, fmt.Sprintf("Delete account '%s'?", rec.AccountName))
	if err != nil {
		return err
	}
	if !ok {
		return writeOutput(cmd.OutOrStdout(), "Account deletion cancelled\n")
	}

	if err := s.m.DeleteAccountByID(rec.ID); err != nil {
		s.record("delete", rec.ID, err)
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if err := s.save("delete", rec.ID); err != nil {
		return err
	}

	return writeOutput(cmd.OutOrStdout(), "✓ Account '%s' deleted\n", rec.AccountName)
}

// confirmDestructive asks before a destructive step unless --yes was given
// or confirmations are disabled in the config.
func confirmDestructive(conf *config.Config, yes bool, prompt string) (bool, error) {
	if yes || !conf.ConfirmDestructive {
		return true, nil
	}
	ok, err := PromptConfirm(prompt, false)
	if err != nil {
		return false, fmt.Errorf("failed to get confirmation: %w", err)
	}
	return ok, nil
}
