package cli

import (
	"fmt"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/keeptower/keeptower/internal/config"
	"github.com/keeptower/keeptower/internal/format"
	"github.com/keeptower/keeptower/internal/util"
	"github.com/keeptower/keeptower/internal/vault"
)

type initOptions struct {
	multiUser    bool
	iterations   int
	minLength    int
	historyDepth int
	usernameHash string
	fips         bool
}

// NewInitCommand creates the init command. A nil conf uses the loaded
// configuration.
func NewInitCommand(conf *config.Config) *cobra.Command {
	opts := &initOptions{historyDepth: -1}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new vault",
		Long: `Create a new vault protected by a master password.

Without --multi-user a single-user vault is written: the payload key is
derived directly from the password with PBKDF2-HMAC-SHA256.

With --multi-user a vault with a security policy and key slots is written and
the user named by --user becomes its first administrator. Settings not given
on the command line come from the security section of the config file.

Example:
  keeptower init
  keeptower init --multi-user --user alice --history-depth 5
  keeptower init --multi-user --user alice --username-hash pbkdf2 --fips`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts, resolveConfig(conf))
		},
	}

	cmd.Flags().BoolVar(&opts.multiUser, "multi-user", false, "Create a multi-user vault")
	cmd.Flags().IntVar(&opts.iterations, "iterations", 0, "PBKDF2 iterations (0 uses config)")
	cmd.Flags().IntVar(&opts.minLength, "min-length", 0, "Minimum user password length (0 uses config)")
	cmd.Flags().IntVar(&opts.historyDepth, "history-depth", opts.historyDepth, "Passwords remembered per user (-1 uses config)")
	cmd.Flags().StringVar(&opts.usernameHash, "username-hash", "", "Username storage: plaintext|sha3-256|pbkdf2|argon2id")
	cmd.Flags().BoolVar(&opts.fips, "fips", false, "Restrict the vault to FIPS-approved algorithms")

	return cmd
}

func runInit(cmd *cobra.Command, opts *initOptions, conf *config.Config) error {
	path := currentVaultPath(conf)

	if !opts.multiUser {
		if cmd.Flags().Changed("username-hash") || cmd.Flags().Changed("history-depth") || opts.fips {
			return util.WrapError(util.ErrInvalidInput, "policy flags require --multi-user")
		}
		if username != "" {
			return util.WrapError(util.ErrInvalidInput, "--user requires --multi-user")
		}
	} else if username == "" {
		return util.WrapError(util.ErrInvalidInput, "--multi-user requires --user for the first administrator")
	}

	iterations := opts.iterations
	if iterations == 0 {
		iterations = conf.Security.PBKDF2Iterations
	}
	minLength := opts.minLength
	if minLength == 0 {
		minLength = conf.Security.MinPasswordLength
	}

	password, err := PromptPasswordConfirm("New master password: ")
	if err != nil {
		return err
	}
	if utf8.RuneCountInString(password) < minLength {
		return fmt.Errorf("%w: at least %d characters required", vault.ErrPasswordTooShort, minLength)
	}

	s, err := lockVault(conf, path, username)
	if err != nil {
		return err
	}
	defer s.close()

	out := cmd.OutOrStdout()
	if !opts.multiUser {
		err = s.m.CreateVault(path, password, iterations)
		s.record("init", "", err)
		if err != nil {
			return fmt.Errorf("failed to create vault: %w", err)
		}
		return writeOutput(out, "✓ Vault created at %s\n  PBKDF2 iterations: %d\n", path, iterations)
	}

	policy, err := initPolicy(opts, conf, iterations, minLength)
	if err != nil {
		return err
	}

	errOut := cmd.ErrOrStderr()
	progress := func(stage string, step, total int) error {
		fmt.Fprintf(errOut, "[%d/%d] %s\n", step, total, stage)
		return nil
	}

	err = s.m.CreateVaultV2(path, username, password, "", policy, progress)
	s.record("init", "", err)
	if err != nil {
		return fmt.Errorf("failed to create vault: %w", err)
	}

	return writeOutput(out, "✓ Multi-user vault created at %s\n  Administrator: %s\n  Username storage: %s\n  PBKDF2 iterations: %d\n  Password history: %d\n",
		path, username, policy.UsernameHashAlgorithm, policy.PBKDF2Iterations, policy.PasswordHistoryDepth)
}

func initPolicy(opts *initOptions, conf *config.Config, iterations, minLength int) (format.VaultSecurityPolicy, error) {
	hashName := opts.usernameHash
	if hashName == "" {
		hashName = conf.Security.UsernameHash
	}
	hashAlg, err := format.ParseUsernameHashAlgorithm(hashName)
	if err != nil {
		return format.VaultSecurityPolicy{}, util.WrapError(util.ErrInvalidInput, err.Error())
	}

	depth := opts.historyDepth
	if depth < 0 {
		depth = conf.Security.PasswordHistoryDepth
	}
	if iterations < 1 || minLength < 1 {
		return format.VaultSecurityPolicy{}, util.WrapError(util.ErrInvalidInput, "iterations and minimum length must be positive")
	}

	return format.VaultSecurityPolicy{
		MinPasswordLength:     uint32(minLength),
		PBKDF2Iterations:      uint32(iterations),
		PasswordHistoryDepth:  uint32(depth),
		UsernameHashAlgorithm: hashAlg,
		Argon2MemoryKiB:       conf.KDF.Memory,
		Argon2Time:            uint16(conf.KDF.Iterations),
		Argon2Parallelism:     conf.KDF.Parallelism,
		FIPSMode:              opts.fips,
	}, nil
}
