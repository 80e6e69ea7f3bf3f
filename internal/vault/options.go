package vault

import (
	"time"

	"github.com/keeptower/keeptower/internal/fec"
	"github.com/keeptower/keeptower/internal/keywrap"
	"github.com/keeptower/keeptower/internal/logger"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l.Component("vault")
		}
	}
}

// WithBackups enables a backup before every save, keeping the newest keep
// copies per vault path.
func WithBackups(enabled bool, keep int) Option {
	return func(m *Manager) {
		m.backupEnabled = enabled
		m.backupCount = max(keep, 1)
	}
}

// WithFEC controls Reed-Solomon protection of V2 headers written by this
// manager. Requests below the 20% floor are raised to it.
func WithFEC(enabled bool, redundancyPercent int) Option {
	return func(m *Manager) {
		m.fecEnabled = enabled
		m.fecRedundancy = redundancyPercent
	}
}

// WithHardwareToken plugs in the challenge-response transport used when a
// vault policy requires a hardware token.
func WithHardwareToken(token keywrap.HardwareToken) Option {
	return func(m *Manager) {
		m.token = token
	}
}

// WithKEKAlgorithm selects the KDF for key slots created by this manager.
func WithKEKAlgorithm(alg keywrap.KEKAlgorithm) Option {
	return func(m *Manager) {
		m.kekAlgorithm = alg
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func defaultOptions(m *Manager) {
	m.log = logger.Nop()
	m.now = time.Now
	m.backupCount = 5
	m.fecEnabled = true
	m.fecRedundancy = fec.DefaultRedundancy
	m.kekAlgorithm = keywrap.KEKPBKDF2SHA256
}
