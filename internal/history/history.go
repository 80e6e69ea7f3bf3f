// Package history keeps salted hashes of previous passwords so that a user
// cannot cycle back to a recently used one.
package history

import (
	"crypto/sha512"
	"crypto/subtle"
	"cmp"
	"errors"
	"slices"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/keeptower/keeptower/internal/crypto"
)

const (
	SaltSize = 32
	HashSize = 48
	// EntrySize is the serialized size of an Entry.
	EntrySize = 8 + SaltSize + HashSize

	// MaxDepth bounds the history kept per user.
	MaxDepth = 24
)

var ErrInvalidIterations = errors.New("history iterations must be positive")

// Entry is one remembered password.
type Entry struct {
	Timestamp int64
	Salt      [SaltSize]byte
	Hash      [HashSize]byte
}

// HashPassword derives a history entry for password with a fresh salt.
func HashPassword(password string, iterations int) (Entry, error) {
	var e Entry
	if iterations < 1 {
		return e, ErrInvalidIterations
	}

	salt, err := crypto.GenerateRandomBytes(SaltSize)
	if err != nil {
		return e, err
	}
	copy(e.Salt[:], salt)

	h := derive(password, e.Salt[:], iterations)
	copy(e.Hash[:], h)
	crypto.Zeroize(h)

	e.Timestamp = time.Now().Unix()
	return e, nil
}

// IsPasswordReused reports whether password matches any entry. Every entry is
// checked so the time taken does not depend on where a match occurs.
func IsPasswordReused(password string, entries []Entry, iterations int) bool {
	if iterations < 1 {
		return false
	}

	reused := 0
	for i := range entries {
		h := derive(password, entries[i].Salt[:], iterations)
		reused |= subtle.ConstantTimeCompare(h, entries[i].Hash[:])
		crypto.Zeroize(h)
	}
	return reused == 1
}

// AddToHistory adds e and trims the oldest entries beyond depth.
func AddToHistory(entries []Entry, e Entry, depth int) []Entry {
	if depth <= 0 {
		return nil
	}
	out := make([]Entry, 0, len(entries)+1)
	out = append(out, entries...)
	out = append(out, e)
	return TrimHistory(out, depth)
}

// TrimHistory orders entries oldest first by Timestamp and keeps the newest
// depth of them. Entries with equal timestamps keep their relative order.
func TrimHistory(entries []Entry, depth int) []Entry {
	if depth <= 0 {
		return nil
	}
	if depth > MaxDepth {
		depth = MaxDepth
	}
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b Entry) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	if len(sorted) <= depth {
		return sorted
	}
	return slices.Clip(sorted[len(sorted)-depth:])
}

func derive(password string, salt []byte, iterations int) []byte {
	pw := []byte(password)
	defer crypto.Zeroize(pw)
	return pbkdf2.Key(pw, salt, iterations, HashSize, sha512.New)
}
