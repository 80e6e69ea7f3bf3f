// Package clipboard copies secrets to the system clipboard and wipes them
// again after a timeout.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
)

var ErrUnavailable = errors.New("clipboard is not available")

// Backend is the clipboard transport.
type Backend interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type system struct{}

func (system) ReadAll() (string, error)   { return clipboard.ReadAll() }
func (system) WriteAll(text string) error { return clipboard.WriteAll(text) }

// Clipboard copies text and clears it later.
type Clipboard struct {
	backend Backend
}

// New returns a Clipboard on the system clipboard.
func New() *Clipboard {
	return &Clipboard{backend: system{}}
}

// NewWithBackend returns a Clipboard on b.
func NewWithBackend(b Backend) *Clipboard {
	return &Clipboard{backend: b}
}

// IsAvailable returns true if clipboard functionality is available
func (c *Clipboard) IsAvailable() bool {
	if _, ok := c.backend.(system); ok && clipboard.Unsupported {
		return false
	}
	_, err := c.backend.ReadAll()
	return err == nil
}

// Copy places text on the clipboard.
func (c *Clipboard) Copy(text string) error {
	if !c.IsAvailable() {
		return ErrUnavailable
	}
	if err := c.backend.WriteAll(text); err != nil {
		return fmt.Errorf("failed to copy to clipboard: %w", err)
	}
	return nil
}

// ClearAfter blocks until timeout elapses or ctx is done, then clears the
// clipboard if it still holds text. It reports whether it cleared.
func (c *Clipboard) ClearAfter(ctx context.Context, text string, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	current, err := c.backend.ReadAll()
	if err != nil {
		return false, fmt.Errorf("failed to read clipboard: %w", err)
	}
	// The user copied something else in the meantime.
	if current != text {
		return false, nil
	}
	return true, c.Clear()
}

// Clear clears the clipboard
func (c *Clipboard) Clear() error {
	return c.backend.WriteAll("")
}
