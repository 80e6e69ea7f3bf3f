package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keeptower/keeptower/internal/config"
	"github.com/keeptower/keeptower/internal/domain"
)

type getOptions struct {
	field string
	copy  bool
	show  bool
	ttl   int
}

// NewGetCommand creates the get command. A nil conf uses the loaded
// configuration.
func NewGetCommand(conf *config.Config) *cobra.Command {
	opts := &getOptions{ttl: -1}

	cmd := &cobra.Command{
		Use:   "get <account>",
		Short: "Show an account or one of its fields",
		Long: `Show an account looked up by id or name.

Without --field the account is printed with its password masked. With
--field a single value is printed, or copied with --copy. Passwords and
sensitive custom fields are copied to the clipboard unless --show is given.

Example:
  keeptower get github
  keeptower get github --field password --copy
  keeptower get github --field username
  keeptower get github --field "Recovery code" --show`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, args[0], opts, resolveConfig(conf))
		},
	}

	cmd.Flags().StringVar(&opts.field, "field", "", "Field to retrieve (password|username|email|url|notes or a custom field name)")
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "Copy to clipboard instead of displaying")
	cmd.Flags().BoolVar(&opts.show, "show", false, "Show secrets in terminal")
	cmd.Flags().IntVar(&opts.ttl, "ttl", opts.ttl, "Clipboard clear timeout in seconds (-1 to use config default)")
	cmd.MarkFlagsMutuallyExclusive("copy", "show")

	return cmd
}

func runGet(cmd *cobra.Command, ref string, opts *getOptions, conf *config.Config) error {
	s, err := openSession(cmd, conf)
	if err != nil {
		return err
	}
	rec, err := findAccount(s.m, ref)
	s.record("get", rec.ID, err)
	// The lock is released before any clipboard wait.
	s.close()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.field == "" {
		if opts.copy {
			return outputSecret(cmd, rec.Password, true, opts.ttl, conf)
		}
		return printAccount(out, &rec, opts.show)
	}

	value, sensitive, err := accountField(&rec, opts.field)
	if err != nil {
		return err
	}
	if value == "" {
		return writeOutput(out, "Field '%s' is empty for account '%s'\n", opts.field, rec.AccountName)
	}
	if opts.copy || (sensitive && !opts.show) {
		return outputSecret(cmd, value, true, opts.ttl, conf)
	}
	return writeOutput(out, "%s\n", value)
}

// accountField returns the named field and whether it is secret.
func accountField(rec *domain.AccountRecord, field string) (string, bool, error) {
	switch strings.ToLower(field) {
	case "password", "secret":
		return rec.Password, true, nil
	case "username", "user":
		return rec.Username, false, nil
	case "email":
		return rec.Email, false, nil
	case "url", "website":
		return rec.Website, false, nil
	case "notes":
		return rec.Notes, false, nil
	case "id":
		return rec.ID, false, nil
	}
	for _, f := range rec.CustomFields {
		if strings.EqualFold(f.Name, field) {
			return f.Value, f.Sensitive || f.Type == domain.FieldPassword, nil
		}
	}
	return "", false, fmt.Errorf("invalid field: %s", field)
}

func printAccount(w io.Writer, rec *domain.AccountRecord, show bool) error {
	mask := func(v string) string {
		if show || v == "" {
			return v
		}
		return "********"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Name:      %s\n", rec.AccountName)
	fmt.Fprintf(&b, "ID:        %s\n", rec.ID)
	if rec.Username != "" {
		fmt.Fprintf(&b, "Username:  %s\n", rec.Username)
	}
	if rec.Email != "" {
		fmt.Fprintf(&b, "Email:     %s\n", rec.Email)
	}
	fmt.Fprintf(&b, "Password:  %s\n", mask(rec.Password))
	if rec.Website != "" {
		fmt.Fprintf(&b, "Website:   %s\n", rec.Website)
	}
	if len(rec.Tags) > 0 {
		fmt.Fprintf(&b, "Tags:      %s\n", strings.Join(rec.Tags, ", "))
	}
	if rec.Favorite {
		b.WriteString("Favorite:  yes\n")
	}
	if rec.AdminOnlyViewable {
		b.WriteString("Access:    administrators only\n")
	}
	for _, f := range rec.CustomFields {
		v := f.Value
		if f.Sensitive || f.Type == domain.FieldPassword {
			v = mask(v)
		}
		fmt.Fprintf(&b, "%s: %s\n", f.Name, v)
	}
	if rec.Notes != "" {
		fmt.Fprintf(&b, "Notes:     %s\n", rec.Notes)
	}
	fmt.Fprintf(&b, "Created:   %s\n", formatUnix(rec.CreatedAt))
	fmt.Fprintf(&b, "Modified:  %s\n", formatUnix(rec.ModifiedAt))
	fmt.Fprintf(&b, "Password changed: %s\n", formatUnix(rec.PasswordChangedAt))
	if n := len(rec.PasswordHistory); n > 0 {
		fmt.Fprintf(&b, "Previous passwords: %d\n", n)
	}

	return writeString(w, b.String())
}
