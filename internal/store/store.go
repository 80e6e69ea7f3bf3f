// Package store holds the filesystem plumbing behind a vault file: atomic
// writes, timestamped backups, the advisory lock file and the bbolt audit
// journal kept next to the vault.
package store

import "errors"

// Error variables for vault file operations
var (
	// ErrFileWrite is returned when the vault file cannot be written
	ErrFileWrite = errors.New("failed to write vault file")
	// ErrBackupNotFound is returned when a named backup does not exist
	ErrBackupNotFound = errors.New("backup not found")
	// ErrInvalidBackup is returned when a path is not a backup of the vault
	ErrInvalidBackup = errors.New("not a backup of this vault")
	// ErrJournalClosed is returned when the audit journal is used after Close
	ErrJournalClosed = errors.New("audit journal is closed")
)
