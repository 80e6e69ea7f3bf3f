package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/keeptower/keeptower/internal/config"
	"github.com/keeptower/keeptower/internal/domain"
	"github.com/keeptower/keeptower/internal/vault"
)

type listOptions struct {
	tags      []string
	search    string
	group     string
	favorites bool
	json      bool
	long      bool
}

type listEntry struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Username   string   `json:"username,omitempty"`
	Email      string   `json:"email,omitempty"`
	Website    string   `json:"website,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Favorite   bool     `json:"favorite,omitempty"`
	ModifiedAt int64    `json:"modified_at"`
}

// NewListCommand creates the list command. A nil conf uses the loaded
// configuration.
func NewListCommand(conf *config.Config) *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts in the vault",
		Long: `List the accounts visible to you, with optional filtering.

--search matches every whitespace or '+' separated token against the name,
username, email, website, notes and tags of each account.

Example:
  keeptower list
  keeptower list --search "github work"
  keeptower list --tags finance --long
  keeptower list --group Banking --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts, resolveConfig(conf))
		},
	}

	cmd.Flags().StringSliceVar(&opts.tags, "tags", nil, "Filter by tags (any match)")
	cmd.Flags().StringVar(&opts.search, "search", "", "Search tokens")
	cmd.Flags().StringVar(&opts.group, "group", "", "Filter by group id or name")
	cmd.Flags().BoolVar(&opts.favorites, "favorites", false, "Only favorite accounts")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output in JSON format")
	cmd.Flags().BoolVar(&opts.long, "long", false, "Show detailed output with additional columns")

	return cmd
}

func runList(cmd *cobra.Command, opts *listOptions, conf *config.Config) error {
	s, err := openSession(cmd, conf)
	if err != nil {
		return err
	}
	defer s.close()

	accounts, err := s.m.SearchAccounts(opts.search)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	groupID := ""
	if opts.group != "" {
		if groupID, err = resolveGroup(s.m, opts.group); err != nil {
			return err
		}
	}

	entries := make([]listEntry, 0, len(accounts))
	for i := range accounts {
		a := &accounts[i]
		if !matchesListFilter(a, opts, groupID) {
			continue
		}
		entries = append(entries, listEntry{
			ID:         a.ID,
			Name:       a.AccountName,
			Username:   a.Username,
			Email:      a.Email,
			Website:    a.Website,
			Tags:       a.Tags,
			Favorite:   a.Favorite,
			ModifiedAt: a.ModifiedAt,
		})
	}
	s.record("list", "", nil)

	sort.SliceStable(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})

	out := cmd.OutOrStdout()
	if opts.json {
		return writeJSON(out, entries)
	}

	if len(entries) == 0 {
		if opts.search != "" || len(opts.tags) > 0 || opts.group != "" || opts.favorites {
			return writeOutput(out, "No accounts found matching the filter criteria\n")
		}
		return writeOutput(out, "No accounts in this vault\nUse 'keeptower add <name>' to create your first account\n")
	}

	return outputEntriesTable(out, entries, opts.long)
}

func matchesListFilter(a *domain.AccountRecord, opts *listOptions, groupID string) bool {
	if opts.favorites && !a.Favorite {
		return false
	}
	if groupID != "" && !a.InGroup(groupID) {
		return false
	}
	if len(opts.tags) == 0 {
		return true
	}
	for _, tag := range opts.tags {
		for _, have := range a.Tags {
			if strings.EqualFold(tag, have) {
				return true
			}
		}
	}
	return false
}

// resolveGroup maps a group id or case-insensitive name to its id.
func resolveGroup(m *vault.Manager, ref string) (string, error) {
	groups, err := m.GetGroups()
	if err != nil {
		return "", err
	}
	for _, g := range groups {
		if g.ID == ref {
			return g.ID, nil
		}
	}
	for _, g := range groups {
		if strings.EqualFold(g.Name, ref) {
			return g.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", vault.ErrGroupNotFound, ref)
}

func outputEntriesTable(out io.Writer, entries []listEntry, long bool) error {
	// Rows go through Fprintf; writeOutput would flush the tabwriter per row.
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	header := "NAME\tUSERNAME\n"
	if long {
		header = "NAME\tUSERNAME\tWEBSITE\tTAGS\tMODIFIED\tID\n"
	}
	if _, err := fmt.Fprint(w, header); err != nil {
		return fmt.Errorf("failed to write table header: %w", err)
	}

	for _, e := range entries {
		name := e.Name
		if e.Favorite {
			name += " *"
		}
		var err error
		if long {
			_, err = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				name,
				truncate(e.Username, 24),
				truncate(e.Website, 32),
				truncate(strings.Join(e.Tags, ","), 40),
				formatUnix(e.ModifiedAt),
				e.ID,
			)
		} else {
			_, err = fmt.Fprintf(w, "%s\t%s\n", name, truncate(e.Username, 24))
		}
		if err != nil {
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush table: %w", err)
	}

	return writeOutput(out, "\nFound %d accounts\n", len(entries))
}
