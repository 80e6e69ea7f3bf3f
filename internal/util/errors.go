// Package util maps engine errors to process exit codes and user-facing
// messages for the command-line tool.
package util

import (
	"errors"
	"fmt"
	"io"

	"github.com/keeptower/keeptower/internal/domain"
	"github.com/keeptower/keeptower/internal/fec"
	"github.com/keeptower/keeptower/internal/format"
	"github.com/keeptower/keeptower/internal/store"
	"github.com/keeptower/keeptower/internal/vault"
)

// Exit codes returned by the keeptower binary.
const (
	ExitOK           = 0
	ExitError        = 1
	ExitInvalidInput = 2
	ExitVaultLocked  = 3
	ExitIntegrityErr = 4
	ExitAuthFailed   = 5
	ExitDenied       = 6
)

var (
	// ErrInvalidInput marks usage mistakes detected by the CLI itself.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCancelled is returned when the user declines a confirmation.
	ErrCancelled = errors.New("cancelled")
)

// ExitCode classifies err.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, store.ErrLockHeld), errors.Is(err, store.ErrLockTimeout):
		return ExitVaultLocked
	case errors.Is(err, vault.ErrAuthenticationFailed), errors.Is(err, vault.ErrYubiKey):
		return ExitAuthFailed
	case errors.Is(err, vault.ErrPermissionDenied), errors.Is(err, vault.ErrLastAdmin):
		return ExitDenied
	case errors.Is(err, domain.ErrInvalidProtobuf),
		errors.Is(err, format.ErrInvalidMagic),
		errors.Is(err, format.ErrTruncated),
		errors.Is(err, format.ErrHeaderCorrupted),
		errors.Is(err, format.ErrInvalidKeySlot),
		errors.Is(err, format.ErrInvalidPolicy),
		errors.Is(err, fec.ErrDecodingFailed),
		errors.Is(err, fec.ErrInvalidData):
		return ExitIntegrityErr
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, vault.ErrInvalidIndex),
		errors.Is(err, vault.ErrAccountNotFound),
		errors.Is(err, vault.ErrGroupNotFound),
		errors.Is(err, vault.ErrDuplicateID),
		errors.Is(err, vault.ErrUserNotFound),
		errors.Is(err, vault.ErrUserExists),
		errors.Is(err, vault.ErrInvalidUsername),
		errors.Is(err, vault.ErrInvalidName),
		errors.Is(err, vault.ErrPasswordTooShort),
		errors.Is(err, vault.ErrPasswordReused),
		errors.Is(err, vault.ErrVaultExists),
		errors.Is(err, vault.ErrWrongVersion),
		errors.Is(err, vault.ErrPolicyViolation):
		return ExitInvalidInput
	default:
		return ExitError
	}
}

// Hint returns a follow-up suggestion for err, or "".
func Hint(err error) string {
	switch ExitCode(err) {
	case ExitVaultLocked:
		return "another keeptower process holds the vault lock"
	case ExitIntegrityErr:
		return "run 'keeptower doctor' to diagnose the vault file"
	case ExitAuthFailed:
		return "check the username, password and hardware token"
	}
	if errors.Is(err, vault.ErrWrongVersion) {
		return "use 'keeptower init --multi-user' vaults with --user, single-user vaults without it"
	}
	return ""
}

// HandleError prints err with an optional hint to w and returns the exit
// code for it.
func HandleError(w io.Writer, err error) int {
	code := ExitCode(err)
	if code == ExitOK {
		return code
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	if hint := Hint(err); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
	return code
}

// WrapError wraps an error with additional context
func WrapError(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}
