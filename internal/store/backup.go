package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const backupInfix = ".backup."

// Backup describes one timestamped copy of a vault file.
type Backup struct {
	Path      string
	CreatedAt time.Time
	Size      int64
}

// BackupPath returns <vaultPath>.backup.<unix-millis>.
func BackupPath(vaultPath string, at time.Time) string {
	return vaultPath + backupInfix + strconv.FormatInt(at.UnixMilli(), 10)
}

// CreateBackup copies the current vault file to a new timestamped backup. If
// a backup with the same millisecond already exists the timestamp is bumped
// until the name is free. A missing vault file is not an error; nothing is
// written and the returned path is empty.
func CreateBackup(vaultPath string, now time.Time) (string, error) {
	data, err := os.ReadFile(vaultPath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read vault for backup: %w", err)
	}

	at := now
	path := BackupPath(vaultPath, at)
	for fileExists(path) {
		at = at.Add(time.Millisecond)
		path = BackupPath(vaultPath, at)
	}

	if err := AtomicWriteFile(path, data); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	return path, nil
}

// ListBackups returns the backups of vaultPath, newest first.
func ListBackups(vaultPath string) ([]Backup, error) {
	dir := filepath.Dir(vaultPath)
	prefix := filepath.Base(vaultPath) + backupInfix

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var backups []Backup
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		millis, err := strconv.ParseInt(strings.TrimPrefix(e.Name(), prefix), 10, 64)
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Backup{
			Path:      filepath.Join(dir, e.Name()),
			CreatedAt: time.UnixMilli(millis),
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// PruneBackups deletes all but the newest keep backups of vaultPath and
// returns the removed paths.
func PruneBackups(vaultPath string, keep int) ([]string, error) {
	if keep < 0 {
		keep = 0
	}
	backups, err := ListBackups(vaultPath)
	if err != nil {
		return nil, err
	}
	if len(backups) <= keep {
		return nil, nil
	}

	var removed []string
	for _, b := range backups[keep:] {
		if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove backup %s: %w", filepath.Base(b.Path), err)
		}
		removed = append(removed, b.Path)
	}
	return removed, nil
}

// RestoreBackup atomically replaces vaultPath with the content of
// backupPath. backupPath must be one of vaultPath's backups.
func RestoreBackup(vaultPath, backupPath string) error {
	prefix := filepath.Base(vaultPath) + backupInfix
	if filepath.Dir(backupPath) != filepath.Dir(vaultPath) || !strings.HasPrefix(filepath.Base(backupPath), prefix) {
		return fmt.Errorf("%w: %s", ErrInvalidBackup, backupPath)
	}

	data, err := os.ReadFile(backupPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrBackupNotFound, backupPath)
	}
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}

	return AtomicWriteFile(vaultPath, data)
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
