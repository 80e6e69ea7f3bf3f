package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/keeptower/keeptower/internal/config"
	"github.com/keeptower/keeptower/internal/crypto"
	"github.com/keeptower/keeptower/internal/format"
)

// NewUserCommand creates the user command group for multi-user vaults. A
// nil conf uses the loaded configuration.
func NewUserCommand(conf *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users of a multi-user vault",
		Long: `Add, remove, list and reset users of a multi-user vault. Every
subcommand except list requires you to log in as an administrator with --user.`,
	}

	cmd.AddCommand(
		newUserAddCommand(conf),
		newUserRemoveCommand(conf),
		newUserListCommand(conf),
		newUserResetCommand(conf),
	)
	return cmd
}

// tempPassword prompts for or generates a password handed to another user.
func tempPassword(generate bool) (string, error) {
	if !generate {
		return PromptPasswordConfirm("Temporary password: ")
	}
	pw, err := crypto.GeneratePasswordWithOptions(crypto.GeneratorOptions{
		Length:           20,
		Charset:          crypto.CharsetAlnum,
		ExcludeAmbiguous: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return pw, nil
}

func newUserAddCommand(conf *config.Config) *cobra.Command {
	var (
		admin      bool
		generate   bool
		mustChange bool
	)

	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Add a user",
		Long: `Add a user with a temporary password. By default the user must change
it at the next login.

Example:
  keeptower user add bob --user alice
  keeptower user add carol --admin --generate --user alice`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := resolveConfig(conf)
			s, err := openSession(cmd, conf)
			if err != nil {
				return err
			}
			defer s.close()

			pw, err := tempPassword(generate)
			if err != nil {
				return err
			}

			role := format.RoleStandard
			if admin {
				role = format.RoleAdministrator
			}
			err = s.m.AddUser(args[0], pw, role, mustChange)
			s.record("user-add", "", err)
			if err != nil {
				return fmt.Errorf("failed to add user: %w", err)
			}

			out := cmd.OutOrStdout()
			if err := writeOutput(out, "✓ Added %s user '%s'\n", role, args[0]); err != nil {
				return err
			}
			if generate {
				return writeOutput(out, "  Temporary password: %s\n", pw)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the administrator role")
	cmd.Flags().BoolVar(&generate, "generate", false, "Generate and print the temporary password")
	cmd.Flags().BoolVar(&mustChange, "must-change", true, "Require a password change at next login")

	return cmd
}

func newUserRemoveCommand(conf *config.Config) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "remove <username>",
		Short: "Remove a user",
		Long: `Remove a user's key slot. You cannot remove yourself or the last
administrator.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := resolveConfig(conf)
			s, err := openSession(cmd, conf)
			if err != nil {
				return err
			}
			defer s.close()

			ok, err := confirmDestructive(conf, yes, fmt.Sprintf("Remove user '%s'?", args[0]))
			if err != nil {
				return err
			}
			if !ok {
				return writeOutput(cmd.OutOrStdout(), "User removal cancelled\n")
			}

			err = s.m.RemoveUser(args[0])
			s.record("user-remove", "", err)
			if err != nil {
				return fmt.Errorf("failed to remove user: %w", err)
			}
			return writeOutput(cmd.OutOrStdout(), "✓ Removed user '%s'\n", args[0])
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")

	return cmd
}

func newUserListCommand(conf *config.Config) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Long: `List the users of the vault. On vaults that hash usernames only your own
name can be shown; other users appear as hashed slots.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := resolveConfig(conf)
			s, err := openSession(cmd, conf)
			if err != nil {
				return err
			}
			defer s.close()

			users, err := s.m.ListUsers()
			if err != nil {
				return fmt.Errorf("failed to list users: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, users)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tROLE\tLAST LOGIN\tPASSWORD CHANGED\tFLAGS")
			for _, u := range users {
				name := u.Username
				if name == "" {
					name = "(hashed)"
				}
				flags := ""
				if u.Current {
					flags = "you"
				}
				if u.MustChangePassword {
					if flags != "" {
						flags += ","
					}
					flags += "must-change"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					name, u.Role, formatUnix(u.LastLoginAt), formatUnix(u.PasswordChangedAt), flags)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")

	return cmd
}

func newUserResetCommand(conf *config.Config) *cobra.Command {
	var generate bool

	cmd := &cobra.Command{
		Use:   "reset <username>",
		Short: "Reset another user's password",
		Long: `Set a temporary password for a user. The user's password history is
cleared and they must change the password at next login.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := resolveConfig(conf)
			s, err := openSession(cmd, conf)
			if err != nil {
				return err
			}
			defer s.close()

			pw, err := tempPassword(generate)
			if err != nil {
				return err
			}

			err = s.m.AdminResetUserPassword(args[0], pw)
			s.record("user-reset", "", err)
			if err != nil {
				return fmt.Errorf("failed to reset password: %w", err)
			}

			out := cmd.OutOrStdout()
			if err := writeOutput(out, "✓ Reset password for '%s'\n", args[0]); err != nil {
				return err
			}
			if generate {
				return writeOutput(out, "  Temporary password: %s\n", pw)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&generate, "generate", false, "Generate and print the temporary password")

	return cmd
}
