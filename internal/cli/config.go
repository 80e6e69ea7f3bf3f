package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/keeptower/keeptower/internal/config"
	"github.com/keeptower/keeptower/internal/format"
)

type configKey struct {
	get func(c *config.Config) any
	set func(c *config.Config, v string) error
}

func parseInt(dst *int) func(*config.Config, string) error {
	return func(_ *config.Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid integer value: %w", err)
		}
		*dst = n
		return nil
	}
}

// configKeys is built per call so the setters bind to c's fields.
func configKeys(c *config.Config) map[string]configKey {
	str := func(p *string) configKey {
		return configKey{
			get: func(*config.Config) any { return *p },
			set: func(_ *config.Config, v string) error { *p = v; return nil },
		}
	}
	boolean := func(p *bool) configKey {
		return configKey{
			get: func(*config.Config) any { return *p },
			set: func(_ *config.Config, v string) error {
				b, err := strconv.ParseBool(v)
				if err != nil {
					return fmt.Errorf("invalid boolean value: %w", err)
				}
				*p = b
				return nil
			},
		}
	}
	integer := func(p *int) configKey {
		return configKey{get: func(*config.Config) any { return *p }, set: parseInt(p)}
	}
	duration := func(p *time.Duration) configKey {
		return configKey{
			get: func(*config.Config) any { return *p },
			set: func(_ *config.Config, v string) error {
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("invalid duration: %w", err)
				}
				*p = d
				return nil
			},
		}
	}
	unsigned := func(bits int, assign func(uint64), read func() any) configKey {
		return configKey{
			get: func(*config.Config) any { return read() },
			set: func(_ *config.Config, v string) error {
				n, err := strconv.ParseUint(v, 10, bits)
				if err != nil {
					return fmt.Errorf("invalid integer value: %w", err)
				}
				assign(n)
				return nil
			},
		}
	}

	usernameHash := str(&c.Security.UsernameHash)
	setHash := usernameHash.set
	usernameHash.set = func(c *config.Config, v string) error {
		if _, err := format.ParseUsernameHashAlgorithm(v); err != nil {
			return err
		}
		return setHash(c, v)
	}
	kek := str(&c.Security.KEKAlgorithm)
	setKEK := kek.set
	kek.set = func(c *config.Config, v string) error {
		if v != "pbkdf2" && v != "argon2id" {
			return fmt.Errorf("invalid KEK algorithm: %s (valid: pbkdf2, argon2id)", v)
		}
		return setKEK(c, v)
	}

	return map[string]configKey{
		"vault_path":                      str(&c.VaultPath),
		"clipboard_ttl":                   duration(&c.ClipboardTTL),
		"lock_timeout":                    duration(&c.LockTimeout),
		"log_level":                       str(&c.LogLevel),
		"confirm_destructive":             boolean(&c.ConfirmDestructive),
		"backup.enabled":                  boolean(&c.Backup.Enabled),
		"backup.count":                    integer(&c.Backup.Count),
		"fec.enabled":                     boolean(&c.FEC.Enabled),
		"fec.redundancy":                  integer(&c.FEC.Redundancy),
		"security.pbkdf2_iterations":      integer(&c.Security.PBKDF2Iterations),
		"security.min_password_length":    integer(&c.Security.MinPasswordLength),
		"security.password_history_depth": integer(&c.Security.PasswordHistoryDepth),
		"security.username_hash":          usernameHash,
		"security.kek_algorithm":          kek,
		"kdf.memory": unsigned(32,
			func(n uint64) { c.KDF.Memory = uint32(n) },
			func() any { return c.KDF.Memory }),
		"kdf.iterations": unsigned(32,
			func(n uint64) { c.KDF.Iterations = uint32(n) },
			func() any { return c.KDF.Iterations }),
		"kdf.parallelism": unsigned(8,
			func(n uint64) { c.KDF.Parallelism = uint8(n) },
			func() any { return c.KDF.Parallelism }),
		"audit.enabled":     boolean(&c.Audit.Enabled),
		"audit.path":        str(&c.Audit.Path),
		"audit.max_entries": integer(&c.Audit.MaxEntries),
	}
}

func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
}

func configFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

// NewConfigCommand creates the config command group. A nil conf uses the
// loaded configuration.
func NewConfigCommand(conf *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage keeptower configuration",
		Long: `View and change configuration settings.

Values in the file can be overridden with KEEPTOWER_* environment variables,
for example KEEPTOWER_CLIPBOARD_TTL=10s or KEEPTOWER_BACKUP_COUNT=3. Numeric
settings are clamped to safe bounds when loaded.

Example:
  keeptower config path
  keeptower config get clipboard_ttl
  keeptower config set backup.count 10
  keeptower config get`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:     "get [key]",
			Aliases: []string{"show"},
			Short:   "Get configuration value(s)",
			Args:    cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c := resolveConfig(conf)
				if len(args) == 0 {
					return runConfigGetAll(cmd, c)
				}
				return runConfigGet(cmd, c, args[0])
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set configuration value",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigSet(cmd, resolveConfig(conf), args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "keys",
			Short: "List configuration keys",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				keys := configKeys(resolveConfig(conf))
				names := make([]string, 0, len(keys))
				for k := range keys {
					names = append(names, k)
				}
				sort.Strings(names)
				return writeString(cmd.OutOrStdout(), strings.Join(names, "\n")+"\n")
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show configuration file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return writeOutput(cmd.OutOrStdout(), "%s\n", configFilePath())
			},
		},
	)

	return cmd
}

func runConfigGetAll(cmd *cobra.Command, c *config.Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return writeOutput(cmd.OutOrStdout(), "# %s\n%s", configFilePath(), data)
}

func runConfigGet(cmd *cobra.Command, c *config.Config, key string) error {
	k, ok := configKeys(c)[normalizeKey(key)]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return writeOutput(cmd.OutOrStdout(), "%v\n", k.get(c))
}

func runConfigSet(cmd *cobra.Command, c *config.Config, key, value string) error {
	k, ok := configKeys(c)[normalizeKey(key)]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err := k.set(c, value); err != nil {
		return err
	}
	c.Clamp()

	if err := config.SaveConfig(c, configFilePath()); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	return writeOutput(cmd.OutOrStdout(), "✓ Configuration updated: %s = %v\n", key, k.get(c))
}
