package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/keeptower/keeptower/internal/config"
)

type statusInfo struct {
	VaultPath     string    `json:"vault_path"`
	Version       int       `json:"version"`
	SchemaVersion uint32    `json:"schema_version"`
	Accounts      int       `json:"accounts"`
	Groups        int       `json:"groups"`
	AccessCount   uint64    `json:"access_count"`
	CreatedAt     time.Time `json:"created_at"`
	ModifiedAt    time.Time `json:"modified_at"`

	User               string `json:"user,omitempty"`
	Role               string `json:"role,omitempty"`
	Users              int    `json:"users,omitempty"`
	MinPasswordLength  uint32 `json:"min_password_length,omitempty"`
	PBKDF2Iterations   uint32 `json:"pbkdf2_iterations,omitempty"`
	PasswordHistory    uint32 `json:"password_history,omitempty"`
	UsernameStorage    string `json:"username_storage,omitempty"`
	RequiresHardware   bool   `json:"requires_hardware_token,omitempty"`
	FIPSMode           bool   `json:"fips_mode,omitempty"`
	MustChangePassword bool   `json:"must_change_password,omitempty"`
}

// NewStatusCommand creates the status command. A nil conf uses the loaded
// configuration.
func NewStatusCommand(conf *config.Config) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show vault status",
		Long:  "Open the vault and display its metadata, security policy and account statistics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, asJSON, resolveConfig(conf))
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output status as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, asJSON bool, conf *config.Config) error {
	s, err := openSession(cmd, conf)
	if err != nil {
		return err
	}
	defer s.close()

	stats, err := s.m.Stats()
	if err != nil {
		return err
	}

	info := statusInfo{
		VaultPath:     s.path,
		Version:       1,
		SchemaVersion: stats.SchemaVersion,
		Accounts:      stats.Accounts,
		Groups:        stats.Groups,
		AccessCount:   stats.AccessCount,
		CreatedAt:     stats.CreatedAt,
		ModifiedAt:    stats.ModifiedAt,
	}

	if s.m.IsV2() {
		info.Version = 2
		policy, err := s.m.SecurityPolicy()
		if err != nil {
			return err
		}
		me, err := s.m.CurrentUser()
		if err != nil {
			return err
		}
		users, err := s.m.ListUsers()
		if err != nil {
			return err
		}
		info.User = me.Username
		info.Role = me.Role.String()
		info.Users = len(users)
		info.MinPasswordLength = policy.MinPasswordLength
		info.PBKDF2Iterations = policy.PBKDF2Iterations
		info.PasswordHistory = policy.PasswordHistoryDepth
		info.UsernameStorage = policy.UsernameHashAlgorithm.String()
		info.RequiresHardware = policy.RequireYubiKey
		info.FIPSMode = policy.FIPSMode
		info.MustChangePassword = me.MustChangePassword
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, info)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Vault:          %s\n", info.VaultPath)
	fmt.Fprintf(&b, "Format:         V%d (schema %d)\n", info.Version, info.SchemaVersion)
	fmt.Fprintf(&b, "Accounts:       %d\n", info.Accounts)
	fmt.Fprintf(&b, "Groups:         %d\n", info.Groups)
	fmt.Fprintf(&b, "Opened:         %d times\n", info.AccessCount)
	fmt.Fprintf(&b, "Created:        %s\n", formatUnix(info.CreatedAt.Unix()))
	fmt.Fprintf(&b, "Modified:       %s\n", formatUnix(info.ModifiedAt.Unix()))
	if info.Version == 2 {
		fmt.Fprintf(&b, "User:           %s (%s)\n", info.User, info.Role)
		fmt.Fprintf(&b, "Users:          %d\n", info.Users)
		fmt.Fprintf(&b, "Policy:         min length %d, %d PBKDF2 iterations, history %d\n",
			info.MinPasswordLength, info.PBKDF2Iterations, info.PasswordHistory)
		fmt.Fprintf(&b, "Usernames:      %s\n", info.UsernameStorage)
		fmt.Fprintf(&b, "Hardware token: %t\n", info.RequiresHardware)
		fmt.Fprintf(&b, "FIPS mode:      %t\n", info.FIPSMode)
	}
	return writeString(out, b.String())
}
