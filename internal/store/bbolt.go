package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/keeptower/keeptower/internal/domain"
)

// AuditBucket holds one JSON envelope per operation, keyed by a big-endian
// sequence number so iteration is chronological.
var AuditBucket = []byte("audit")

// Journal is the bbolt-backed audit log kept beside a vault. It records
// operation metadata only, never secrets.
type Journal struct {
	db   *bbolt.DB
	path string
}

type auditEnvelope struct {
	Operation *domain.Operation `json:"operation"`
}

// OpenJournal opens or creates the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit journal: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(AuditBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize audit journal: %w", err)
	}

	return &Journal{db: db, path: path}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Close releases the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// LogOperation persists an audit entry in the audit bucket.
func (j *Journal) LogOperation(op *domain.Operation) error {
	if j.db == nil {
		return ErrJournalClosed
	}
	if op == nil {
		return fmt.Errorf("operation cannot be nil")
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now().UTC()
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(AuditBucket)

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate audit sequence: %w", err)
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)

		payload, err := json.Marshal(auditEnvelope{Operation: op})
		if err != nil {
			return fmt.Errorf("failed to encode audit entry: %w", err)
		}

		return bucket.Put(key, payload)
	})
}

// GetAuditLog returns up to limit of the most recent operations in
// chronological order. limit <= 0 returns everything.
func (j *Journal) GetAuditLog(limit int) ([]*domain.Operation, error) {
	if j.db == nil {
		return nil, ErrJournalClosed
	}

	var ops []*domain.Operation
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(AuditBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(ops) == limit {
				break
			}
			var env auditEnvelope
			if err := json.Unmarshal(v, &env); err != nil {
				return fmt.Errorf("failed to decode audit entry: %w", err)
			}
			if env.Operation != nil {
				op := *env.Operation
				op.Timestamp = op.Timestamp.UTC()
				ops = append(ops, &op)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, k := 0, len(ops)-1; i < k; i, k = i+1, k-1 {
		ops[i], ops[k] = ops[k], ops[i]
	}
	return ops, nil
}

// Prune deletes the oldest entries so at most keep remain.
func (j *Journal) Prune(keep int) (int, error) {
	if j.db == nil {
		return 0, ErrJournalClosed
	}

	removed := 0
	err := j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(AuditBucket)
		excess := bucket.Stats().KeyN - keep
		if excess <= 0 {
			return nil
		}

		var stale [][]byte
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// VerifyAuditIntegrity ensures audit entries are well-formed JSON objects.
func (j *Journal) VerifyAuditIntegrity() error {
	if j.db == nil {
		return ErrJournalClosed
	}

	return j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(AuditBucket).ForEach(func(k, v []byte) error {
			var env auditEnvelope
			if err := json.Unmarshal(v, &env); err != nil {
				return fmt.Errorf("corrupted audit entry %x: %w", k, err)
			}
			if env.Operation == nil {
				return fmt.Errorf("audit entry %x missing operation data", k)
			}
			return nil
		})
	})
}
