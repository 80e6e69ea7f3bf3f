// Package format defines the on-disk layout of vault files: the single-user
// V1 layout and the multi-user V2 header with its key slots and security
// policy.
package format

import "errors"

var (
	ErrInvalidMagic         = errors.New("not a vault file")
	ErrUnsupportedVersion   = errors.New("unsupported vault version")
	ErrTruncated            = errors.New("vault data truncated")
	ErrInvalidPolicy        = errors.New("invalid security policy")
	ErrInvalidKeySlot       = errors.New("invalid key slot")
	ErrTooManySlots         = errors.New("too many key slots")
	ErrUnknownHashAlgorithm = errors.New("unknown username hash algorithm")
	ErrHeaderCorrupted      = errors.New("vault header corrupted beyond repair")
)
