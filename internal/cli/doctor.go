package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keeptower/keeptower/internal/config"
	"github.com/keeptower/keeptower/internal/store"
	"github.com/keeptower/keeptower/internal/vault"
)

var errUnhealthy = errors.New("health check found issues")

// NewDoctorCommand creates the doctor command. A nil conf uses the loaded
// configuration.
func NewDoctorCommand(conf *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Perform security and health checks",
		Long: `Inspect the vault file without opening it.

This command checks:
- File permissions
- Header structure, key slots and security policy
- Header corruption repaired by forward error correction
- KDF parameter strength
- Available backups
- Audit journal integrity

Example:
  keeptower doctor`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, resolveConfig(conf))
		},
	}
}

func runDoctor(cmd *cobra.Command, conf *config.Config) error {
	path := currentVaultPath(conf)
	var b strings.Builder

	b.WriteString("KeepTower Health Check\n")
	b.WriteString("======================\n")

	report, err := vault.InspectVault(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(&b, "\n❌ Vault file not found: %s\n", path)
			_ = writeString(cmd.OutOrStdout(), b.String())
			return fmt.Errorf("no vault at %s", path)
		}
		fmt.Fprintf(&b, "\n❌ Vault file cannot be read: %v\n", err)
		_ = writeString(cmd.OutOrStdout(), b.String())
		return fmt.Errorf("failed to inspect vault: %w", err)
	}

	fmt.Fprintf(&b, "\nVault:        %s\n", report.Path)
	fmt.Fprintf(&b, "Size:         %d bytes (header %d, payload %d)\n", report.Size, report.HeaderBytes, report.PayloadBytes)
	fmt.Fprintf(&b, "Permissions:  %o\n", report.Permissions)
	fmt.Fprintf(&b, "Format:       V%d", report.Version)
	if report.Legacy {
		b.WriteString(" (legacy, no header)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Iterations:   %d\n", report.Iterations)
	if report.Version == 2 {
		fec := "disabled"
		if report.FECEnabled {
			fec = fmt.Sprintf("%d%% redundancy", report.FECRedundancy)
		}
		fmt.Fprintf(&b, "Header FEC:   %s\n", fec)
		fmt.Fprintf(&b, "Key slots:    %d (%d active, %d administrators)\n", report.KeySlots, report.ActiveSlots, report.Administrators)
		if report.Policy != nil {
			fmt.Fprintf(&b, "Usernames:    %s\n", report.Policy.UsernameHashAlgorithm)
		}
	}
	fmt.Fprintf(&b, "Backups:      %d\n", len(report.Backups))

	findings := report.Findings()
	if conf.Audit.Enabled && conf.Audit.Path != "" {
		if msg := checkJournal(conf.Audit.Path); msg != "" {
			findings = append(findings, msg)
		}
	}

	if len(findings) == 0 {
		b.WriteString("\n✅ No issues found\n")
		return writeString(cmd.OutOrStdout(), b.String())
	}

	b.WriteString("\nFindings:\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "  ⚠️  %s\n", f)
	}
	if err := writeString(cmd.OutOrStdout(), b.String()); err != nil {
		return err
	}
	return fmt.Errorf("%w: %d", errUnhealthy, len(findings))
}

// checkJournal verifies the audit journal if it exists.
func checkJournal(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	j, err := store.OpenJournal(path)
	if err != nil {
		return fmt.Sprintf("audit journal cannot be opened: %v", err)
	}
	defer j.Close()
	if err := j.VerifyAuditIntegrity(); err != nil {
		return fmt.Sprintf("audit journal is damaged: %v", err)
	}
	return ""
}
