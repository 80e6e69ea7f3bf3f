package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/keeptower/keeptower/internal/config"
)

// NewGroupCommand creates the group command group. A nil conf uses the
// loaded configuration.
func NewGroupCommand(conf *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Organize accounts into groups",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List groups",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runGroupList(cmd, resolveConfig(conf))
			},
		},
		&cobra.Command{
			Use:   "create <name>",
			Short: "Create a group",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withGroupSession(cmd, resolveConfig(conf), "group-create", func(s *session) (string, error) {
					id, err := s.m.CreateGroup("", args[0])
					if err != nil {
						return "", err
					}
					return fmt.Sprintf("✓ Created group '%s' (%s)\n", args[0], id), nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <group>",
			Short: "Delete a group; its accounts are kept",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withGroupSession(cmd, resolveConfig(conf), "group-delete", func(s *session) (string, error) {
					id, err := resolveGroup(s.m, args[0])
					if err != nil {
						return "", err
					}
					if err := s.m.DeleteGroup(id); err != nil {
						return "", err
					}
					return fmt.Sprintf("✓ Deleted group '%s'\n", args[0]), nil
				})
			},
		},
		&cobra.Command{
			Use:   "add <account> <group>",
			Short: "Add an account to a group",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withGroupSession(cmd, resolveConfig(conf), "group-add", func(s *session) (string, error) {
					return changeMembership(s, args[0], args[1], true)
				})
			},
		},
		&cobra.Command{
			Use:   "remove <account> <group>",
			Short: "Remove an account from a group",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withGroupSession(cmd, resolveConfig(conf), "group-remove", func(s *session) (string, error) {
					return changeMembership(s, args[0], args[1], false)
				})
			},
		},
	)
	return cmd
}

// withGroupSession opens the vault, runs fn and saves on success.
func withGroupSession(cmd *cobra.Command, conf *config.Config, op string, fn func(*session) (string, error)) error {
	s, err := openSession(cmd, conf)
	if err != nil {
		return err
	}
	defer s.close()

	msg, err := fn(s)
	if err != nil {
		s.record(op, "", err)
		return err
	}
	if err := s.save(op, ""); err != nil {
		return err
	}
	return writeString(cmd.OutOrStdout(), msg)
}

func changeMembership(s *session, accountRef, groupRef string, add bool) (string, error) {
	rec, err := findAccount(s.m, accountRef)
	if err != nil {
		return "", err
	}
	groupID, err := resolveGroup(s.m, groupRef)
	if err != nil {
		return "", err
	}
	if add {
		if err := s.m.AddAccountToGroup(rec.ID, groupID); err != nil {
			return "", err
		}
		return fmt.Sprintf("✓ Added '%s' to group '%s'\n", rec.AccountName, groupRef), nil
	}
	if err := s.m.RemoveAccountFromGroup(rec.ID, groupID); err != nil {
		return "", err
	}
	return fmt.Sprintf("✓ Removed '%s' from group '%s'\n", rec.AccountName, groupRef), nil
}

func runGroupList(cmd *cobra.Command, conf *config.Config) error {
	s, err := openSession(cmd, conf)
	if err != nil {
		return err
	}
	defer s.close()

	groups, err := s.m.GetGroups()
	if err != nil {
		return err
	}
	accounts, err := s.m.GetAllAccounts()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(groups) == 0 {
		return writeOutput(out, "No groups\n")
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tACCOUNTS\tID")
	for _, g := range groups {
		n := 0
		for i := range accounts {
			if accounts[i].InGroup(g.ID) {
				n++
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", g.Name, n, g.ID)
	}
	return w.Flush()
}
