package vault

import (
	"errors"

	"github.com/keeptower/keeptower/internal/domain"
	"github.com/keeptower/keeptower/internal/store"
)

// Error variables returned by Manager
var (
	ErrVaultClosed      = errors.New("vault is not open")
	ErrVaultAlreadyOpen = errors.New("a vault is already open")
	ErrVaultExists      = errors.New("vault file already exists")
	ErrWrongVersion     = errors.New("operation not supported by this vault version")

	ErrAccountNotFound  = errors.New("account not found")
	ErrInvalidIndex     = errors.New("account index out of range")
	ErrDuplicateID      = errors.New("account id already exists")
	ErrGroupNotFound    = errors.New("group not found")
	ErrInvalidName      = errors.New("name must not be empty")
	ErrPermissionDenied = errors.New("permission denied")

	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExists           = errors.New("user already exists")
	ErrInvalidUsername      = errors.New("invalid username")
	ErrLastAdmin            = errors.New("cannot remove the last administrator")
	ErrPasswordReused       = errors.New("password was used recently")
	ErrPasswordTooShort     = errors.New("password is too short")
	ErrYubiKey              = errors.New("hardware token error")
	ErrPolicyViolation      = errors.New("request violates vault security policy")

	ErrSaveFailed = errors.New("failed to save vault")
	ErrAborted    = errors.New("operation cancelled")

	// ErrInvalidProtobuf is returned when the decrypted payload is malformed.
	ErrInvalidProtobuf = domain.ErrInvalidProtobuf
	// ErrFileWrite is returned when the vault file cannot be written.
	ErrFileWrite = store.ErrFileWrite
)
