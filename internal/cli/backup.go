package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/keeptower/keeptower/internal/config"
	"github.com/keeptower/keeptower/internal/store"
	"github.com/keeptower/keeptower/internal/util"
	"github.com/keeptower/keeptower/internal/vault"
)

// NewBackupCommand creates the backup command group. A nil conf uses the
// loaded configuration.
func NewBackupCommand(conf *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "List and restore vault backups",
		Long: `A timestamped copy of the vault file is written before every save when
backups are enabled. These commands do not need the vault password.`,
	}

	var yes bool
	restore := &cobra.Command{
		Use:   "restore <backup>",
		Short: "Replace the vault with a backup",
		Long: `Replace the vault file with a backup, given as a path or as the number
shown by 'keeptower backup list'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupRestore(cmd, args[0], yes, resolveConfig(conf))
		},
	}
	restore.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List backups, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBackupList(cmd, resolveConfig(conf))
			},
		},
		restore,
	)
	return cmd
}

func runBackupList(cmd *cobra.Command, conf *config.Config) error {
	path := currentVaultPath(conf)
	backups, err := vault.NewManager().ListBackups(path)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(backups) == 0 {
		return writeOutput(out, "No backups of %s\n", path)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tCREATED\tSIZE\tPATH")
	for i, b := range backups {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", i+1, b.CreatedAt.Format("2006-01-02 15:04:05"), b.Size, b.Path)
	}
	return w.Flush()
}

// resolveBackup maps a list number or path to a backup path.
func resolveBackup(path, ref string) (string, error) {
	n, err := strconv.Atoi(ref)
	if err != nil {
		return ref, nil
	}
	backups, err := store.ListBackups(path)
	if err != nil {
		return "", fmt.Errorf("failed to list backups: %w", err)
	}
	if n < 1 || n > len(backups) {
		return "", util.WrapError(util.ErrInvalidInput, fmt.Sprintf("no backup number %d", n))
	}
	return backups[n-1].Path, nil
}

func runBackupRestore(cmd *cobra.Command, ref string, yes bool, conf *config.Config) error {
	path := currentVaultPath(conf)
	backupPath, err := resolveBackup(path, ref)
	if err != nil {
		return err
	}

	s, err := lockVault(conf, path, username)
	if err != nil {
		return err
	}
	defer s.close()

	ok, err := confirmDestructive(conf, yes, fmt.Sprintf("Replace %s with %s?", path, backupPath))
	if err != nil {
		return err
	}
	if !ok {
		return writeOutput(cmd.OutOrStdout(), "Restore cancelled\n")
	}

	err = s.m.RestoreBackup(path, backupPath)
	s.record("restore", "", err)
	if err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}
	return writeOutput(cmd.OutOrStdout(), "✓ Restored %s from %s\n", path, backupPath)
}
