package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/keeptower/keeptower/internal/config"
	"github.com/keeptower/keeptower/internal/crypto"
)

type rotateOptions struct {
	length  int
	charset string
	copy    bool
	ttl     int
	show    bool
}

// NewRotatePasswordCommand creates the rotate command, which regenerates an
// account password. A nil conf uses the loaded configuration.
func NewRotatePasswordCommand(conf *config.Config) *cobra.Command {
	opts := &rotateOptions{charset: string(crypto.CharsetAlnumSym), ttl: -1}

	cmd := &cobra.Command{
		Use:   "rotate <account>",
		Short: "Regenerate the password of an existing account",
		Long: `Generate a new random password for an account while preserving its other
fields. The previous password is appended to the account's password history
and the password change time is updated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRotatePassword(cmd, args[0], opts, resolveConfig(conf))
		},
	}

	cmd.Flags().IntVarP(&opts.length, "length", "l", 20, "Length of the new password")
	cmd.Flags().StringVar(&opts.charset, "charset", opts.charset, "Character set (alpha|alnum|alnumsym)")
	cmd.Flags().BoolVarP(&opts.copy, "copy", "c", false, "Copy password to clipboard")
	cmd.Flags().IntVar(&opts.ttl, "ttl", opts.ttl, "Time in seconds before clipboard is cleared (-1 uses config default)")
	cmd.Flags().BoolVarP(&opts.show, "show", "s", false, "Show the new password in output")
	cmd.MarkFlagsMutuallyExclusive("copy", "show")

	return cmd
}

func runRotatePassword(cmd *cobra.Command, ref string, opts *rotateOptions, conf *config.Config) error {
	newPassword, err := crypto.GeneratePassword(opts.length, crypto.Charset(opts.charset))
	if err != nil {
		return fmt.Errorf("failed to generate password: %w", err)
	}

	s, err := openSession(cmd, conf)
	if err != nil {
		return err
	}

	rec, err := findAccount(s.m, ref)
	if err != nil {
		s.close()
		return err
	}

	rec.SetPassword(newPassword, time.Now())
	if err := s.m.UpdateAccountByID(rec.ID, rec); err != nil {
		s.record("rotate", rec.ID, err)
		s.close()
		return fmt.Errorf("failed to update account: %w", err)
	}
	err = s.save("rotate", rec.ID)
	s.close()
	if err != nil {
		return err
	}

	if err := writeOutput(cmd.OutOrStdout(), "✓ Rotated password for '%s'\n", rec.AccountName); err != nil {
		return err
	}
	switch {
	case opts.show:
		return writeOutput(cmd.OutOrStdout(), "New password: %s\n", newPassword)
	case opts.copy:
		return outputSecret(cmd, newPassword, true, opts.ttl, conf)
	}
	return nil
}
