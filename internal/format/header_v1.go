package format

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/keeptower/keeptower/internal/crypto"
)

// LegacyIterations is assumed for header-less files.
const LegacyIterations = 100000

const v1HeaderSize = commonPrefixSize + crypto.SaltSize + crypto.IVSize

// V1Header describes a single-user vault: one password-derived key, no slots.
type V1Header struct {
	Iterations uint32
	Salt       [crypto.SaltSize]byte
	IV         [crypto.IVSize]byte

	// Legacy is set when the file had no magic/version prefix.
	Legacy bool
}

// WriteV1 encodes [magic][version 1][iterations][salt][iv][ciphertext].
func WriteV1(h *V1Header, ciphertext []byte) []byte {
	out := make([]byte, 0, v1HeaderSize+len(ciphertext))
	out = append(out, Magic[:]...)
	out = binary.LittleEndian.AppendUint32(out, VersionV1)
	out = binary.LittleEndian.AppendUint32(out, h.Iterations)
	out = append(out, h.Salt[:]...)
	out = append(out, h.IV[:]...)
	return append(out, ciphertext...)
}

// ReadV1 parses a V1 file, or a header-less salt||iv||ciphertext file when
// the magic is absent. The returned ciphertext aliases buf.
func ReadV1(buf []byte) (*V1Header, []byte, error) {
	h := &V1Header{}

	if len(buf) >= 4 && bytes.Equal(buf[:4], Magic[:]) {
		version, err := DetectVersion(buf)
		if err != nil {
			return nil, nil, err
		}
		if version != VersionV1 {
			return nil, nil, fmt.Errorf("%w: expected %d, got %d", ErrUnsupportedVersion, VersionV1, version)
		}
		if len(buf) < v1HeaderSize+crypto.TagSize {
			return nil, nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(buf))
		}
		h.Iterations = binary.LittleEndian.Uint32(buf[8:12])
		copy(h.Salt[:], buf[commonPrefixSize:])
		copy(h.IV[:], buf[commonPrefixSize+crypto.SaltSize:])
		return h, buf[v1HeaderSize:], nil
	}

	legacySize := crypto.SaltSize + crypto.IVSize
	if len(buf) < legacySize+crypto.TagSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(buf))
	}
	h.Legacy = true
	h.Iterations = LegacyIterations
	copy(h.Salt[:], buf)
	copy(h.IV[:], buf[crypto.SaltSize:])
	return h, buf[legacySize:], nil
}
