package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/keeptower/keeptower/internal/config"
	"github.com/keeptower/keeptower/internal/logger"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var (
	cfgFile   string
	vaultPath string
	username  string
	verbose   bool
	cfg       *config.Config
	log       *logger.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCommand()

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keeptower",
		Short: "An encrypted, local-only credential vault",
		Long: `KeepTower stores account credentials in a single encrypted vault file.

Vault files are sealed with AES-256-GCM. Single-user vaults derive their key
from a master password with PBKDF2-HMAC-SHA256. Multi-user vaults wrap one
random data key per user with AES Key Wrap, optionally protect their header
with Reed-Solomon parity and can require a hardware token.

Features:
- Atomic saves with rotating timestamped backups
- Administrator and standard user roles with password history
- Clipboard integration with auto-clear
- Local audit journal of vault operations`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = config.DefaultPath()
			}

			var err error
			cfg, err = config.LoadConfig(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			level := logger.ParseLevel(cfg.LogLevel)
			if verbose {
				level = zerolog.DebugLevel
			}
			log = logger.New(os.Stderr, "cli", level)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/keeptower/config.yaml)")
	cmd.PersistentFlags().StringVar(&vaultPath, "vault", "", "vault file path")
	cmd.PersistentFlags().StringVarP(&username, "user", "u", "", "user to log in as (multi-user vaults)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(
		NewInitCommand(nil),
		NewAddCommand(nil),
		NewGetCommand(nil),
		NewListCommand(nil),
		NewUpdateCommand(nil),
		NewDeleteCommand(nil),
		NewRotatePasswordCommand(nil),
		NewPasswdCommand(nil),
		NewUserCommand(nil),
		NewGroupCommand(nil),
		NewBackupCommand(nil),
		NewStatusCommand(nil),
		NewDoctorCommand(nil),
		NewAuditCommand(nil),
		NewConfigCommand(nil),
		NewPassgenCommand(nil),
	)
	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// resolveConfig returns conf, the loaded configuration, or the defaults.
func resolveConfig(conf *config.Config) *config.Config {
	switch {
	case conf != nil:
		return conf
	case cfg != nil:
		return cfg
	default:
		return config.DefaultConfig()
	}
}

func currentVaultPath(conf *config.Config) string {
	if vaultPath != "" {
		return vaultPath
	}
	return conf.VaultPath
}

func cliLogger() *logger.Logger {
	if log == nil {
		return logger.Nop()
	}
	return log
}
