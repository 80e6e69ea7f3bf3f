// Package config handles the keeptower settings file. Values are read from
// YAML, overridden by KEEPTOWER_* environment variables and then clamped to
// safe bounds before they reach the vault engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "KEEPTOWER_"

// Config represents the keeptower configuration
type Config struct {
	VaultPath          string         `yaml:"vault_path" env:"VAULT_PATH"`
	ClipboardTTL       time.Duration  `yaml:"clipboard_ttl" env:"CLIPBOARD_TTL"`
	LockTimeout        time.Duration  `yaml:"lock_timeout" env:"LOCK_TIMEOUT"`
	LogLevel           string         `yaml:"log_level" env:"LOG_LEVEL"`
	ConfirmDestructive bool           `yaml:"confirm_destructive" env:"CONFIRM_DESTRUCTIVE"`
	Backup             BackupConfig   `yaml:"backup" envPrefix:"BACKUP_"`
	FEC                FECConfig      `yaml:"fec" envPrefix:"FEC_"`
	Security           SecurityConfig `yaml:"security" envPrefix:"SECURITY_"`
	KDF                KDFConfig      `yaml:"kdf" envPrefix:"KDF_"`
	Audit              AuditConfig    `yaml:"audit" envPrefix:"AUDIT_"`
}

// BackupConfig controls the copies taken before each save
type BackupConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	Count   int  `yaml:"count" env:"COUNT"`
}

// FECConfig controls Reed-Solomon protection of the vault header
type FECConfig struct {
	Enabled    bool `yaml:"enabled" env:"ENABLED"`
	Redundancy int  `yaml:"redundancy" env:"REDUNDANCY"`
}

// SecurityConfig holds the policy applied to newly created vaults
type SecurityConfig struct {
	PBKDF2Iterations     int    `yaml:"pbkdf2_iterations" env:"PBKDF2_ITERATIONS"`
	MinPasswordLength    int    `yaml:"min_password_length" env:"MIN_PASSWORD_LENGTH"`
	PasswordHistoryDepth int    `yaml:"password_history_depth" env:"PASSWORD_HISTORY_DEPTH"`
	UsernameHash         string `yaml:"username_hash" env:"USERNAME_HASH"`
	KEKAlgorithm         string `yaml:"kek_algorithm" env:"KEK_ALGORITHM"`
}

// KDFConfig represents Argon2id parameters for new key slots
type KDFConfig struct {
	Memory      uint32 `yaml:"memory" env:"MEMORY"`
	Iterations  uint32 `yaml:"iterations" env:"ITERATIONS"`
	Parallelism uint8  `yaml:"parallelism" env:"PARALLELISM"`
}

// AuditConfig controls the local operation journal
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled" env:"ENABLED"`
	Path       string `yaml:"path" env:"PATH"`
	MaxEntries int    `yaml:"max_entries" env:"MAX_ENTRIES"`
}

// Bounds applied by Clamp.
const (
	MinBackupCount = 1
	MaxBackupCount = 50

	MinFECRedundancy = 5
	MaxFECRedundancy = 50

	MinPBKDF2Iterations = 100_000
	MaxPBKDF2Iterations = 10_000_000

	MinPasswordLength = 8
	MaxPasswordLength = 128

	MaxHistoryDepth = 24

	MinArgon2MemoryKiB = 8 * 1024
	MaxArgon2MemoryKiB = 1024 * 1024

	MinClipboardTTL = 5 * time.Second
	MaxClipboardTTL = 10 * time.Minute
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "keeptower")
	return &Config{
		VaultPath:          filepath.Join(dataDir, "vault.ktv"),
		ClipboardTTL:       30 * time.Second,
		LockTimeout:        2 * time.Second,
		LogLevel:           "warn",
		ConfirmDestructive: true,
		Backup: BackupConfig{
			Enabled: true,
			Count:   5,
		},
		FEC: FECConfig{
			Enabled:    true,
			Redundancy: 20,
		},
		Security: SecurityConfig{
			PBKDF2Iterations:     600_000,
			MinPasswordLength:    12,
			PasswordHistoryDepth: 5,
			UsernameHash:         "sha3-256",
			KEKAlgorithm:         "pbkdf2",
		},
		KDF: KDFConfig{
			Memory:      65536, // 64 MB
			Iterations:  3,
			Parallelism: 4,
		},
		Audit: AuditConfig{
			Enabled:    true,
			Path:       filepath.Join(dataDir, "audit.db"),
			MaxEntries: 10_000,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/keeptower/config.yaml or the
// platform equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "keeptower", "config.yaml")
}

// LoadConfig loads configuration from file, applies environment overrides
// and clamps the result. A missing file yields the defaults and is not
// created.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(filepath.Clean(configPath))
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("error getting env configs: %w", err)
	}

	cfg.Clamp()
	return cfg, nil
}

// SaveConfig saves configuration to file
func SaveConfig(cfg *Config, configPath string) error {
	cleanPath := filepath.Clean(configPath)

	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(cleanPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Clamp pulls every numeric setting into its supported range.
func (c *Config) Clamp() {
	c.Backup.Count = clamp(c.Backup.Count, MinBackupCount, MaxBackupCount)
	c.FEC.Redundancy = clamp(c.FEC.Redundancy, MinFECRedundancy, MaxFECRedundancy)

	c.Security.PBKDF2Iterations = clamp(c.Security.PBKDF2Iterations, MinPBKDF2Iterations, MaxPBKDF2Iterations)
	c.Security.MinPasswordLength = clamp(c.Security.MinPasswordLength, MinPasswordLength, MaxPasswordLength)
	c.Security.PasswordHistoryDepth = clamp(c.Security.PasswordHistoryDepth, 0, MaxHistoryDepth)

	c.KDF.Memory = clamp(c.KDF.Memory, MinArgon2MemoryKiB, MaxArgon2MemoryKiB)
	c.KDF.Iterations = clamp(c.KDF.Iterations, 1, 10)
	c.KDF.Parallelism = clamp(c.KDF.Parallelism, 1, 16)

	c.ClipboardTTL = clamp(c.ClipboardTTL, MinClipboardTTL, MaxClipboardTTL)
	c.LockTimeout = clamp(c.LockTimeout, 0, time.Minute)
	if c.Audit.MaxEntries < 0 {
		c.Audit.MaxEntries = 0
	}
}

func clamp[T int | uint8 | uint32 | time.Duration](v, lo, hi T) T {
	return max(lo, min(v, hi))
}
