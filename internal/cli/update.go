package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/keeptower/keeptower/internal/config"
	"github.com/keeptower/keeptower/internal/domain"
)

type updateOptions struct {
	accountFlags
	name           string
	promptPassword bool
	addTags        []string
	removeTags     []string
	unfavorite     bool
	setFields      []string
	unsetFields    []string
}

// NewUpdateCommand creates the update command. A nil conf uses the loaded
// configuration.
func NewUpdateCommand(conf *config.Config) *cobra.Command {
	opts := &updateOptions{}

	cmd := &cobra.Command{
		Use:   "update <account>",
		Short: "Update an existing account",
		Long: `Update fields of an account looked up by id or name. Only the fields
given on the command line change. A new password is taken from --password
(prompt), --generate or --secret-file; the old one is kept in the account's
password history.

Example:
  keeptower update github --username new-login
  keeptower update github --password
  keeptower update github --add-tag work --remove-tag personal
  keeptower update github --set-field "Recovery code=1234-5678"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, args[0], opts, resolveConfig(conf))
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.name, "name", "", "New account name")
	cmd.Flags().BoolVar(&opts.promptPassword, "password", false, "Prompt for a new password")
	cmd.Flags().StringSliceVar(&opts.addTags, "add-tag", nil, "Tags to add")
	cmd.Flags().StringSliceVar(&opts.removeTags, "remove-tag", nil, "Tags to remove")
	cmd.Flags().BoolVar(&opts.unfavorite, "unfavorite", false, "Clear the favorite mark")
	cmd.Flags().StringArrayVar(&opts.setFields, "set-field", nil, "Set a custom field as NAME=VALUE")
	cmd.Flags().StringArrayVar(&opts.unsetFields, "unset-field", nil, "Remove a custom field")
	cmd.MarkFlagsMutuallyExclusive("password", "generate", "secret-file")

	return cmd
}

func runUpdate(cmd *cobra.Command, ref string, opts *updateOptions, conf *config.Config) error {
	s, err := openSession(cmd, conf)
	if err != nil {
		return err
	}
	defer s.close()

	rec, err := findAccount(s.m, ref)
	if err != nil {
		return err
	}

	changed, err := applyUpdate(cmd, &rec, opts)
	if err != nil {
		return err
	}
	if !changed {
		return writeOutput(cmd.OutOrStdout(), "No changes for account '%s'\n", rec.AccountName)
	}

	if err := s.m.UpdateAccountByID(rec.ID, rec); err != nil {
		s.record("update", rec.ID, err)
		return fmt.Errorf("failed to update account: %w", err)
	}
	if err := s.save("update", rec.ID); err != nil {
		return err
	}

	return writeOutput(cmd.OutOrStdout(), "✓ Updated account '%s'\n", rec.AccountName)
}

func applyUpdate(cmd *cobra.Command, rec *domain.AccountRecord, opts *updateOptions) (bool, error) {
	flags := cmd.Flags()
	changed := false
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
			changed = true
		}
	}

	if flags.Changed("name") {
		name := strings.TrimSpace(opts.name)
		if name == "" {
			return false, fmt.Errorf("account name cannot be empty")
		}
		rec.AccountName = name
		changed = true
	}
	set("username", &rec.Username, opts.login)
	set("email", &rec.Email, opts.email)
	set("url", &rec.Website, opts.url)
	set("notes", &rec.Notes, opts.notes)

	if flags.Changed("tags") {
		rec.Tags = nil
		for _, t := range opts.tags {
			rec.AddTag(t)
		}
		changed = true
	}
	for _, t := range opts.addTags {
		changed = rec.AddTag(t) || changed
	}
	for _, t := range opts.removeTags {
		changed = rec.RemoveTag(t) || changed
	}

	if flags.Changed("favorite") || opts.unfavorite {
		rec.Favorite = opts.favorite && !opts.unfavorite
		changed = true
	}
	if flags.Changed("admin-only") {
		rec.AdminOnlyViewable = opts.adminOnly
		rec.AdminOnlyDeletable = opts.adminOnly
		changed = true
	}

	for _, kv := range opts.setFields {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return false, fmt.Errorf("invalid --set-field %q, expected NAME=VALUE", kv)
		}
		setCustomField(rec, name, value)
		changed = true
	}
	for _, name := range opts.unsetFields {
		changed = unsetCustomField(rec, name) || changed
	}

	if opts.promptPassword || opts.generate || opts.secretFile != "" {
		pw, err := opts.accountFlags.password()
		if err != nil {
			return false, err
		}
		rec.SetPassword(pw, time.Now())
		changed = true
	}

	return changed, nil
}

func setCustomField(rec *domain.AccountRecord, name, value string) {
	for i := range rec.CustomFields {
		if strings.EqualFold(rec.CustomFields[i].Name, name) {
			rec.CustomFields[i].Value = value
			return
		}
	}
	rec.CustomFields = append(rec.CustomFields, domain.CustomField{Name: name, Value: value})
}

func unsetCustomField(rec *domain.AccountRecord, name string) bool {
	for i := range rec.CustomFields {
		if strings.EqualFold(rec.CustomFields[i].Name, name) {
			rec.CustomFields = append(rec.CustomFields[:i], rec.CustomFields[i+1:]...)
			return true
		}
	}
	return false
}
