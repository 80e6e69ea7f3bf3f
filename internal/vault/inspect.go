package vault

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/keeptower/keeptower/internal/format"
	"github.com/keeptower/keeptower/internal/store"
)

// Report is what can be learned about a vault file without a password.
type Report struct {
	Path        string
	Size        int64
	Permissions os.FileMode
	Version     uint32
	Legacy      bool
	Iterations  uint32

	// HeaderBytes is the on-disk size of the header including the prefix.
	HeaderBytes  int
	PayloadBytes int

	// V2 only.
	FECEnabled     bool
	FECRedundancy  int
	RepairedBytes  int // -1 when the header cannot be compared after decoding
	KeySlots       int
	ActiveSlots    int
	Administrators int
	Policy         *format.VaultSecurityPolicy

	Backups []store.Backup
}

// InspectVault reads the headers of the vault at path. A V2 header damaged
// within the FEC capacity is reported with the number of repaired bytes.
func InspectVault(path string) (*Report, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault: %w", err)
	}

	r := &Report{
		Path:          path,
		Size:          st.Size(),
		Permissions:   st.Mode().Perm(),
		RepairedBytes: -1,
	}
	if r.Backups, err = store.ListBackups(path); err != nil {
		return nil, err
	}

	version, err := format.DetectVersion(data)
	switch {
	case errors.Is(err, format.ErrInvalidMagic):
		version = format.VersionV1
	case err != nil:
		return r, err
	}

	if version == format.VersionV1 {
		h, ct, err := format.ReadV1(data)
		if err != nil {
			return r, err
		}
		r.Version = format.VersionV1
		r.Legacy = h.Legacy
		r.Iterations = h.Iterations
		r.PayloadBytes = len(ct)
		r.HeaderBytes = len(data) - len(ct)
		return r, nil
	}

	h, offset, err := format.ReadHeader(data)
	if err != nil {
		return r, err
	}
	r.Version = format.VersionV2
	r.Iterations = h.Policy.PBKDF2Iterations
	r.HeaderBytes = offset
	r.PayloadBytes = len(data) - offset
	r.FECEnabled = h.FECEnabled
	r.FECRedundancy = h.FECRedundancy
	r.KeySlots = len(h.KeySlots)
	policy := h.Policy
	r.Policy = &policy
	for _, s := range h.KeySlots {
		if !s.Active {
			continue
		}
		r.ActiveSlots++
		if s.Role == format.RoleAdministrator {
			r.Administrators++
		}
	}

	// Re-encoding the decoded header reproduces the pristine bytes, so the
	// difference counts what FEC repaired.
	clean, err := format.WriteHeader(h, h.FECEnabled, h.FECRedundancy)
	if err == nil && len(clean) == offset {
		r.RepairedBytes = countDiff(clean, data[:offset])
	}
	return r, nil
}

// Healthy reports whether the file has no findings worth acting on.
func (r *Report) Healthy() bool {
	return len(r.Findings()) == 0
}

// Findings lists problems and recommendations, most severe first.
func (r *Report) Findings() []string {
	var out []string
	if r.Permissions&0o077 != 0 {
		out = append(out, fmt.Sprintf("file permissions %o allow access by other users; expected 0600", r.Permissions))
	}
	if r.RepairedBytes > 0 {
		out = append(out, fmt.Sprintf("header had %d corrupted bytes repaired by FEC; save the vault to rewrite it", r.RepairedBytes))
	}
	if r.Legacy {
		out = append(out, "legacy header-less vault; open and save to upgrade")
	}
	if r.Version == format.VersionV2 {
		if !r.FECEnabled {
			out = append(out, "header is stored without forward error correction")
		}
		if r.Administrators == 0 {
			out = append(out, "no active administrator key slot")
		}
		if r.Policy != nil && r.Policy.UsernameHashAlgorithm == format.UsernameHashPlaintext {
			out = append(out, "usernames are stored in plaintext")
		}
	}
	if r.Iterations < 100000 {
		out = append(out, fmt.Sprintf("PBKDF2 iteration count %d is low", r.Iterations))
	}
	return out
}

func countDiff(a, b []byte) int {
	if bytes.Equal(a, b) {
		return 0
	}
	n := 0
	for i := range a {
		if a[i] != b[i] {
			n++
		}
	}
	return n
}
