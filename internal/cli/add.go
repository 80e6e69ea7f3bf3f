package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/keeptower/keeptower/internal/config"
	"github.com/keeptower/keeptower/internal/crypto"
	"github.com/keeptower/keeptower/internal/domain"
	"github.com/keeptower/keeptower/internal/util"
	"github.com/keeptower/keeptower/internal/vault"
)

type accountFlags struct {
	login      string
	email      string
	url        string
	notes      string
	tags       []string
	secretFile string
	generate   bool
	length     int
	favorite   bool
	adminOnly  bool
}

func (f *accountFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.login, "username", "", "Account username")
	cmd.Flags().StringVar(&f.email, "email", "", "Account email")
	cmd.Flags().StringVar(&f.url, "url", "", "Associated website")
	cmd.Flags().StringVar(&f.notes, "notes", "", "Additional notes")
	cmd.Flags().StringSliceVar(&f.tags, "tags", nil, "Comma-separated tags")
	cmd.Flags().StringVar(&f.secretFile, "secret-file", "", "Read the password from a file")
	cmd.Flags().BoolVar(&f.generate, "generate", false, "Generate a random password")
	cmd.Flags().IntVar(&f.length, "length", 20, "Length of a generated password")
	cmd.Flags().BoolVar(&f.favorite, "favorite", false, "Mark the account as favorite")
	cmd.Flags().BoolVar(&f.adminOnly, "admin-only", false, "Restrict viewing and deleting to administrators")
	cmd.MarkFlagsMutuallyExclusive("generate", "secret-file")
}

// password returns the account password from --generate, --secret-file or
// a prompt.
func (f *accountFlags) password() (string, error) {
	switch {
	case f.generate:
		pw, err := crypto.GeneratePassword(f.length, crypto.CharsetAlnumSym)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		return pw, nil
	case f.secretFile != "":
		data, err := os.ReadFile(filepath.Clean(f.secretFile))
		if err != nil {
			return "", fmt.Errorf("failed to read secret file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	default:
		return readPassword("Account password: ")
	}
}

// NewAddCommand creates the add command. A nil conf uses the loaded
// configuration.
func NewAddCommand(conf *config.Config) *cobra.Command {
	flags := &accountFlags{}
	var id string

	cmd := &cobra.Command{
		Use:   "add <account-name>",
		Short: "Add an account to the vault",
		Long: `Add an account record with the given name.

The password is prompted for unless --generate or --secret-file is given.

Example:
  keeptower add github --username octocat --generate
  keeptower add bank --username me --url https://bank.example --tags finance,personal
  keeptower add --user alice payroll --admin-only --secret-file pw.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, args[0], id, flags, resolveConfig(conf))
		},
	}

	flags.bind(cmd)
	cmd.Flags().StringVar(&id, "id", "", "Account id (default: random UUID)")

	return cmd
}

func runAdd(cmd *cobra.Command, name, id string, flags *accountFlags, conf *config.Config) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return util.WrapError(util.ErrInvalidInput, "account name cannot be empty")
	}

	s, err := openSession(cmd, conf)
	if err != nil {
		return err
	}
	defer s.close()

	if id == "" {
		id = uuid.NewString()
	} else if _, err := s.m.FindAccount(id); err == nil {
		return fmt.Errorf("%w: %s", vault.ErrDuplicateID, id)
	} else if !errors.Is(err, vault.ErrAccountNotFound) {
		return err
	}

	password, err := flags.password()
	if err != nil {
		return err
	}

	rec := domain.AccountRecord{
		ID:                 id,
		AccountName:        name,
		Username:           flags.login,
		Password:           password,
		Email:              flags.email,
		Website:            flags.url,
		Notes:              flags.notes,
		Favorite:           flags.favorite,
		AdminOnlyViewable:  flags.adminOnly,
		AdminOnlyDeletable: flags.adminOnly,
	}
	for _, tag := range flags.tags {
		rec.AddTag(tag)
	}

	if err := s.m.AddAccount(rec); err != nil {
		s.record("add", id, err)
		return fmt.Errorf("failed to add account: %w", err)
	}
	if err := s.save("add", id); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := writeOutput(out, "✓ Added account '%s' (%s)\n", name, id); err != nil {
		return err
	}
	if flags.generate {
		return writeOutput(out, "  Generated a %d character password, use 'keeptower get %s --copy' to retrieve it\n", flags.length, name)
	}
	return nil
}
