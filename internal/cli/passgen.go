package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/keeptower/keeptower/internal/clipboard"
	"github.com/keeptower/keeptower/internal/config"
	"github.com/keeptower/keeptower/internal/crypto"
)

var systemClipboard = clipboard.New()

// Clipboard hooks, replaced in tests.
var (
	copyToClipboard      = systemClipboard.Copy
	clipboardIsAvailable = systemClipboard.IsAvailable
	clearClipboardAfter  = waitAndClear
)

// waitAndClear blocks until ttl elapses or the process is interrupted, then
// clears the clipboard if it still holds text.
func waitAndClear(ctx context.Context, text string, ttl time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	_, err := systemClipboard.ClearAfter(ctx, text, ttl)
	return err
}

type passgenOptions struct {
	length           int
	words            int
	separator        string
	charset          string
	excludeAmbiguous bool
	copy             bool
	ttl              int
}

// NewPassgenCommand creates the passgen command. A nil conf uses the loaded
// configuration.
func NewPassgenCommand(conf *config.Config) *cobra.Command {
	opts := &passgenOptions{
		length:    20,
		separator: "-",
		charset:   string(crypto.CharsetAlnumSym),
		ttl:       -1,
	}

	cmd := &cobra.Command{
		Use:   "passgen",
		Short: "Generate secure passwords or passphrases",
		Long: `Generate secure passwords using configurable character sets or
word passphrases, with optional clipboard support. No vault is opened.

Example:
  keeptower passgen --length 32
  keeptower passgen --charset alnum --no-ambiguous
  keeptower passgen --words 5 --copy --ttl 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPassgen(cmd, opts, resolveConfig(conf))
		},
	}

	cmd.Flags().IntVar(&opts.length, "length", opts.length, "Length of generated password (characters)")
	cmd.Flags().IntVar(&opts.words, "words", 0, "Number of words for a passphrase")
	cmd.Flags().StringVar(&opts.separator, "separator", opts.separator, "Passphrase word separator")
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "Copy the generated value to the clipboard")
	cmd.Flags().IntVar(&opts.ttl, "ttl", opts.ttl, "Clipboard clear timeout in seconds (-1 to use config default)")
	cmd.Flags().StringVar(&opts.charset, "charset", opts.charset, "Character set (alpha|alnum|alnumsym)")
	cmd.Flags().BoolVar(&opts.excludeAmbiguous, "no-ambiguous", false, "Avoid characters such as 0/O and 1/l")

	return cmd
}

func runPassgen(cmd *cobra.Command, opts *passgenOptions, conf *config.Config) error {
	if opts.words > 0 || cmd.Flags().Changed("words") {
		if cmd.Flags().Changed("length") {
			return fmt.Errorf("--words cannot be used with --length")
		}
		if cmd.Flags().Changed("charset") {
			return fmt.Errorf("--words cannot be used with --charset")
		}
		if opts.words <= 0 {
			return fmt.Errorf("--words must be positive")
		}

		phrase, err := crypto.GeneratePassphrase(opts.words, opts.separator)
		if err != nil {
			return fmt.Errorf("failed to generate passphrase: %w", err)
		}
		return outputSecret(cmd, phrase, opts.copy, opts.ttl, conf)
	}

	charset := crypto.Charset(strings.ToLower(opts.charset))
	switch charset {
	case crypto.CharsetAlpha, crypto.CharsetAlnum, crypto.CharsetAlnumSym:
	default:
		return fmt.Errorf("invalid charset: %s (valid: alpha, alnum, alnumsym)", opts.charset)
	}

	if opts.length <= 0 {
		return fmt.Errorf("--length must be positive")
	}

	password, err := crypto.GeneratePasswordWithOptions(crypto.GeneratorOptions{
		Length:           opts.length,
		Charset:          charset,
		ExcludeAmbiguous: opts.excludeAmbiguous,
	})
	if err != nil {
		return fmt.Errorf("failed to generate password: %w", err)
	}

	return outputSecret(cmd, password, opts.copy, opts.ttl, conf)
}

// outputSecret prints secret, or with copy set places it on the clipboard
// and waits for the clear timeout.
func outputSecret(cmd *cobra.Command, secret string, copy bool, ttlOverride int, conf *config.Config) error {
	out := cmd.OutOrStdout()

	if !copy {
		return writeOutput(out, "%s\n", secret)
	}

	if !clipboardIsAvailable() {
		return fmt.Errorf("clipboard not available, remove --copy to print instead")
	}

	ttl, err := resolveClipboardTTL(ttlOverride, conf)
	if err != nil {
		return err
	}

	if err := copyToClipboard(secret); err != nil {
		return fmt.Errorf("failed to copy to clipboard: %w", err)
	}

	if ttl == 0 {
		return writeOutput(out, "✓ Copied to clipboard\n")
	}
	if err := writeOutput(out, "✓ Copied to clipboard (clears in %s)\n", ttl.Round(time.Second)); err != nil {
		return fmt.Errorf("failed to write success message: %w", err)
	}

	if err := clearClipboardAfter(cmd.Context(), secret, ttl); err != nil {
		return fmt.Errorf("failed to clear clipboard: %w", err)
	}
	return nil
}

// resolveClipboardTTL maps --ttl to a duration. -1 selects the configured
// timeout and 0 leaves the value on the clipboard.
func resolveClipboardTTL(override int, conf *config.Config) (time.Duration, error) {
	if override < -1 {
		return 0, fmt.Errorf("--ttl must be -1 (config default) or a non-negative number of seconds")
	}

	if override >= 0 {
		return time.Duration(override) * time.Second, nil
	}

	if conf != nil && conf.ClipboardTTL > 0 {
		return conf.ClipboardTTL, nil
	}

	return 30 * time.Second, nil
}
