package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/keeptower/keeptower/internal/domain"
)

func TestAtomicWriter(t *testing.T) {
	tempDir := t.TempDir()
	targetPath := filepath.Join(tempDir, "test.vault")

	// Test successful write
	writer, err := NewAtomicWriter(targetPath)
	if err != nil {
		t.Fatalf("Failed to create atomic writer: %v", err)
	}

	testData := []byte("Hello, World!")
	if _, err := writer.Write(testData); err != nil {
		t.Fatalf("Failed to write data: %v", err)
	}
	if err := writer.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	data, err := os.ReadFile(targetPath)
	if err != nil {
		t.Fatalf("Failed to read target file: %v", err)
	}
	if string(data) != string(testData) {
		t.Errorf("File content mismatch: got %s, want %s", data, testData)
	}

	info, err := os.Stat(targetPath)
	if err != nil {
		t.Fatalf("Failed to stat target: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Incorrect file permissions: got %o, want 0600", info.Mode().Perm())
	}

	// Test abort
	writer2, err := NewAtomicWriter(targetPath + ".2")
	if err != nil {
		t.Fatalf("Failed to create second atomic writer: %v", err)
	}
	if _, err := writer2.Write([]byte("This should be aborted")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if err := writer2.Abort(); err != nil {
		t.Fatalf("Failed to abort: %v", err)
	}
	if _, err := os.Stat(targetPath + ".2"); !os.IsNotExist(err) {
		t.Error("Aborted file should not exist")
	}

	if err := writer2.Commit(); !errors.Is(err, ErrFileWrite) {
		t.Errorf("Commit after abort: got %v, want ErrFileWrite", err)
	}

	// No temp files left behind
	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 1 {
		t.Errorf("Expected only the target file, found %d entries", len(entries))
	}
}

func TestAtomicWriteFileReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "v.vault")

	if err := AtomicWriteFile(path, []byte("one")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("two")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "two" {
		t.Errorf("got %q, want %q", data, "two")
	}
}

func TestEnsureFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loose")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := EnsureFilePermissions(path); err != nil {
		t.Fatalf("EnsureFilePermissions: %v", err)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("got %o, want 0600", info.Mode().Perm())
	}
}

func TestBackupRotation(t *testing.T) {
	vaultPath := filepath.Join(t.TempDir(), "my.vault")
	base := time.UnixMilli(1700000000000)

	if p, err := CreateBackup(vaultPath, base); err != nil || p != "" {
		t.Fatalf("backup of missing vault: path=%q err=%v", p, err)
	}

	for i := 0; i < 3; i++ {
		if err := AtomicWriteFile(vaultPath, []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
		if _, err := CreateBackup(vaultPath, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("CreateBackup %d: %v", i, err)
		}
		if _, err := PruneBackups(vaultPath, 2); err != nil {
			t.Fatalf("PruneBackups %d: %v", i, err)
		}
	}

	backups, err := ListBackups(vaultPath)
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("got %d backups, want 2", len(backups))
	}
	if !backups[0].CreatedAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("newest backup at %v", backups[0].CreatedAt)
	}
	if !backups[1].CreatedAt.Equal(base.Add(time.Second)) {
		t.Errorf("second backup at %v", backups[1].CreatedAt)
	}
	if want := BackupPath(vaultPath, base.Add(2*time.Second)); backups[0].Path != want {
		t.Errorf("got path %s, want %s", backups[0].Path, want)
	}
}

func TestBackupTimestampCollision(t *testing.T) {
	vaultPath := filepath.Join(t.TempDir(), "my.vault")
	if err := AtomicWriteFile(vaultPath, []byte("data")); err != nil {
		t.Fatal(err)
	}

	now := time.UnixMilli(1700000000000)
	first, err := CreateBackup(vaultPath, now)
	if err != nil {
		t.Fatal(err)
	}
	second, err := CreateBackup(vaultPath, now)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("colliding backups must get distinct names")
	}
	if second != BackupPath(vaultPath, now.Add(time.Millisecond)) {
		t.Errorf("unexpected bumped name %s", second)
	}
}

func TestListBackupsIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	vaultPath := filepath.Join(dir, "a.vault")
	for _, name := range []string{"a.vault.backup.notanumber", "b.vault.backup.1", "a.vault.lock"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	backups, err := ListBackups(vaultPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 0 {
		t.Errorf("expected no backups, got %v", backups)
	}
}

func TestRestoreBackup(t *testing.T) {
	dir := t.TempDir()
	vaultPath := filepath.Join(dir, "r.vault")
	if err := AtomicWriteFile(vaultPath, []byte("old")); err != nil {
		t.Fatal(err)
	}
	backup, err := CreateBackup(vaultPath, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := AtomicWriteFile(vaultPath, []byte("new")); err != nil {
		t.Fatal(err)
	}

	if err := RestoreBackup(vaultPath, backup); err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}
	data, _ := os.ReadFile(vaultPath)
	if string(data) != "old" {
		t.Errorf("got %q after restore", data)
	}

	if err := RestoreBackup(vaultPath, filepath.Join(dir, "other.file")); !errors.Is(err, ErrInvalidBackup) {
		t.Errorf("got %v, want ErrInvalidBackup", err)
	}
	if err := RestoreBackup(vaultPath, BackupPath(vaultPath, time.UnixMilli(1))); !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("got %v, want ErrBackupNotFound", err)
	}
}

func TestFileLock(t *testing.T) {
	vaultPath := filepath.Join(t.TempDir(), "test.vault")

	lock1 := NewFileLock(vaultPath)
	if err := lock1.Lock(time.Second); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if !lock1.IsLocked() {
		t.Error("Lock should be held")
	}
	if err := lock1.Lock(time.Second); !errors.Is(err, ErrLockHeld) {
		t.Errorf("Expected ErrLockHeld, got %v", err)
	}

	// Test lock contention
	lock2 := NewFileLock(vaultPath)
	if err := lock2.Lock(100 * time.Millisecond); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("Expected timeout error, got %v", err)
	}

	if err := lock1.Unlock(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
	if lock1.IsLocked() {
		t.Error("Lock should be released")
	}
	if err := lock1.Unlock(); !errors.Is(err, ErrLockNotHeld) {
		t.Errorf("Expected ErrLockNotHeld, got %v", err)
	}

	// Now second lock should succeed
	if err := lock2.Lock(time.Second); err != nil {
		t.Fatalf("Failed to acquire lock after release: %v", err)
	}
	_ = lock2.Unlock()
}

func TestJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}

	for _, typ := range []string{"open", "add", "save", "close"} {
		if err := j.LogOperation(&domain.Operation{Type: typ, Vault: "v", Success: true}); err != nil {
			t.Fatalf("LogOperation(%s): %v", typ, err)
		}
	}

	ops, err := j.GetAuditLog(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 4 || ops[0].Type != "open" || ops[3].Type != "close" {
		t.Fatalf("unexpected log %+v", ops)
	}
	if ops[0].Timestamp.IsZero() {
		t.Error("timestamp should be filled in")
	}

	recent, err := j.GetAuditLog(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Type != "save" || recent[1].Type != "close" {
		t.Errorf("unexpected recent entries %+v", recent)
	}

	removed, err := j.Prune(3)
	if err != nil || removed != 1 {
		t.Fatalf("Prune: removed=%d err=%v", removed, err)
	}
	if err := j.VerifyAuditIntegrity(); err != nil {
		t.Errorf("VerifyAuditIntegrity: %v", err)
	}

	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	if err := j.LogOperation(&domain.Operation{Type: "x"}); !errors.Is(err, ErrJournalClosed) {
		t.Errorf("got %v, want ErrJournalClosed", err)
	}

	// Entries survive reopening
	j, err = OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	ops, err = j.GetAuditLog(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 3 || ops[0].Type != "add" {
		t.Errorf("after reopen got %+v", ops)
	}
}
