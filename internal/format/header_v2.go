package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/keeptower/keeptower/internal/crypto"
	"github.com/keeptower/keeptower/internal/fec"
)

// Magic opens every vault file that carries a header.
var Magic = [4]byte{'K', 'T', 'V', 'F'}

const (
	VersionV1 uint32 = 1
	VersionV2 uint32 = 2

	// FlagFEC marks a V2 header block stored as Reed-Solomon codewords.
	FlagFEC byte = 0x01

	// MinHeaderRedundancy is the floor applied to header FEC requests.
	MinHeaderRedundancy = 20

	// MaxKeySlots bounds the number of users per vault.
	MaxKeySlots = 64

	commonPrefixSize = 4 + 4 + 4 // magic, version, iterations
	v2FieldSize      = 1 + 4     // flags, header length

	// v2PrefixSize covers the plain common prefix and the Reed-Solomon
	// protected flags and length.
	v2PrefixSize = commonPrefixSize + v2FieldSize*fec.FieldExpansion

	maxHeaderBlock = 1 << 20
)

// VaultHeaderV2 is the multi-user header: policy, key slots and the payload
// salt and IV. The iteration count in the file prefix is a copy of
// Policy.PBKDF2Iterations.
type VaultHeaderV2 struct {
	Policy   VaultSecurityPolicy
	KeySlots []*KeySlot
	DataSalt [crypto.SaltSize]byte
	DataIV   [crypto.IVSize]byte

	// FECEnabled and FECRedundancy describe how the header was stored on
	// disk. They are filled by ReadHeader.
	FECEnabled    bool
	FECRedundancy int

	body []byte
}

// SerializeBody encodes the header body:
// [policy_size u16][policy][slot_count u16][slots][data_salt][data_iv].
func (h *VaultHeaderV2) SerializeBody() ([]byte, error) {
	if len(h.KeySlots) > MaxKeySlots {
		return nil, fmt.Errorf("%w: %d", ErrTooManySlots, len(h.KeySlots))
	}

	policy := h.Policy.Serialize()
	size := 2 + len(policy) + 2 + len(h.DataSalt) + len(h.DataIV)
	for _, s := range h.KeySlots {
		size += s.SerializedSize()
	}

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(policy)))
	buf = append(buf, policy...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(h.KeySlots)))

	var err error
	for i, s := range h.KeySlots {
		if buf, err = s.Serialize(buf); err != nil {
			return nil, fmt.Errorf("failed to serialize key slot %d: %w", i, err)
		}
	}

	buf = append(buf, h.DataSalt[:]...)
	buf = append(buf, h.DataIV[:]...)
	return buf, nil
}

// RawBody returns the body bytes exactly as read from disk, after FEC
// decoding. It is nil for headers built in memory.
func (h *VaultHeaderV2) RawBody() []byte {
	return h.body
}

// ClampHeaderRedundancy applies the header FEC floor and ceiling.
func ClampHeaderRedundancy(percent int) int {
	if percent < MinHeaderRedundancy {
		return MinHeaderRedundancy
	}
	if percent > fec.MaxRedundancy {
		return fec.MaxRedundancy
	}
	return percent
}

// WriteHeader encodes the V2 file prefix and header block. The payload
// ciphertext is appended by the caller.
func WriteHeader(h *VaultHeaderV2, applyFEC bool, redundancyPercent int) ([]byte, error) {
	body, err := h.SerializeBody()
	if err != nil {
		return nil, err
	}

	block := body
	var flags byte
	if applyFEC {
		rs, err := fec.New(ClampHeaderRedundancy(redundancyPercent))
		if err != nil {
			return nil, err
		}
		enc, err := rs.Encode(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode header: %w", err)
		}
		if block, err = enc.Marshal(); err != nil {
			return nil, fmt.Errorf("failed to encode header: %w", err)
		}
		flags |= FlagFEC
	}

	field := make([]byte, 0, v2FieldSize)
	field = append(field, flags)
	field = binary.LittleEndian.AppendUint32(field, uint32(len(block)))
	protected, err := fec.EncodeField(field)
	if err != nil {
		return nil, fmt.Errorf("failed to encode header prefix: %w", err)
	}

	out := make([]byte, 0, v2PrefixSize+len(block))
	out = append(out, Magic[:]...)
	out = binary.LittleEndian.AppendUint32(out, VersionV2)
	out = binary.LittleEndian.AppendUint32(out, h.Policy.PBKDF2Iterations)
	out = append(out, protected...)
	out = append(out, block...)
	return out, nil
}

// ReadHeader parses a V2 file and returns the header and the offset at which
// the payload ciphertext begins. The prefix iteration count is not trusted;
// the policy in the body, which is authenticated with the payload, is.
func ReadHeader(buf []byte) (*VaultHeaderV2, int, error) {
	version, err := DetectVersion(buf)
	if err != nil {
		return nil, 0, err
	}
	if version != VersionV2 {
		return nil, 0, fmt.Errorf("%w: expected %d, got %d", ErrUnsupportedVersion, VersionV2, version)
	}

	r := reader{buf: buf, off: commonPrefixSize}
	raw, ok := r.next(v2FieldSize * fec.FieldExpansion)
	if !ok {
		return nil, 0, fmt.Errorf("%w: header flags and length", ErrTruncated)
	}
	field, err := fec.DecodeField(raw, v2FieldSize)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrHeaderCorrupted, err)
	}
	flags := field[0]
	blockLen := binary.LittleEndian.Uint32(field[1:])
	if blockLen > maxHeaderBlock {
		return nil, 0, fmt.Errorf("%w: header block of %d bytes", ErrHeaderCorrupted, blockLen)
	}
	block, ok := r.next(int(blockLen))
	if !ok {
		return nil, 0, fmt.Errorf("%w: header block", ErrTruncated)
	}

	h := &VaultHeaderV2{}
	body := block
	if flags&FlagFEC != 0 {
		enc, err := fec.UnmarshalEncodedData(block)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrHeaderCorrupted, err)
		}
		rs, err := fec.New(enc.RedundancyPercent)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrHeaderCorrupted, err)
		}
		if body, err = rs.Decode(enc); err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrHeaderCorrupted, err)
		}
		h.FECEnabled = true
		h.FECRedundancy = enc.RedundancyPercent
	}

	if err := h.parseBody(body); err != nil {
		return nil, 0, err
	}
	h.body = bytes.Clone(body)
	return h, r.off, nil
}

func (h *VaultHeaderV2) parseBody(body []byte) error {
	r := reader{buf: body}

	policyLen, ok := r.u16()
	if !ok {
		return fmt.Errorf("%w: policy size", ErrTruncated)
	}
	raw, ok := r.next(int(policyLen))
	if !ok {
		return fmt.Errorf("%w: policy", ErrTruncated)
	}
	policy, err := DeserializePolicy(raw)
	if err != nil {
		return err
	}
	h.Policy = *policy

	count, ok := r.u16()
	if !ok {
		return fmt.Errorf("%w: slot count", ErrTruncated)
	}
	if count > MaxKeySlots {
		return fmt.Errorf("%w: %d", ErrTooManySlots, count)
	}

	h.KeySlots = make([]*KeySlot, 0, count)
	for i := 0; i < int(count); i++ {
		slot, n, err := DeserializeKeySlot(body, r.off)
		if err != nil {
			return fmt.Errorf("key slot %d: %w", i, err)
		}
		r.off += n
		h.KeySlots = append(h.KeySlots, slot)
	}

	salt, ok := r.next(len(h.DataSalt))
	if !ok {
		return fmt.Errorf("%w: data salt", ErrTruncated)
	}
	copy(h.DataSalt[:], salt)
	iv, ok := r.next(len(h.DataIV))
	if !ok {
		return fmt.Errorf("%w: data iv", ErrTruncated)
	}
	copy(h.DataIV[:], iv)

	if r.off != len(body) {
		return fmt.Errorf("%w: %d trailing header bytes", ErrHeaderCorrupted, len(body)-r.off)
	}
	return nil
}

// DetectVersion reads the magic and version fields.
func DetectVersion(buf []byte) (uint32, error) {
	if len(buf) < commonPrefixSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrTruncated, len(buf))
	}
	if !bytes.Equal(buf[:4], Magic[:]) {
		return 0, ErrInvalidMagic
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	switch version {
	case VersionV1, VersionV2:
		return version, nil
	default:
		return version, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
}

// IsValidV2Vault reports whether buf starts with a readable V2 header.
func IsValidV2Vault(buf []byte) bool {
	_, _, err := ReadHeader(buf)
	return err == nil
}

// HeaderBlockSize returns the size of the header block WriteHeader would
// produce for a body of n bytes.
func HeaderBlockSize(n int, applyFEC bool, redundancyPercent int) int {
	if !applyFEC {
		return n
	}
	rs, err := fec.New(ClampHeaderRedundancy(redundancyPercent))
	if err != nil || n > math.MaxInt32 {
		return 0
	}
	return fec.ContainerPrefix + rs.CalculateEncodedSize(n)
}
