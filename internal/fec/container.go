package fec

import (
	"encoding/binary"
	"fmt"

	"github.com/vivint/infectious"
)

// FieldExpansion is the encoded size of a protected metadata field relative
// to its plain size. A third of the encoded bytes may be corrupted.
const FieldExpansion = 3

const prefixFieldSize = 4 + 1 + DigestSize

// ContainerPrefix is the encoded size of
// original_size(4) + redundancy(1) + digest.
const ContainerPrefix = prefixFieldSize * FieldExpansion

func fieldCode(size int) (*infectious.FEC, error) {
	if size <= 0 || size*FieldExpansion > 256 {
		return nil, fmt.Errorf("%w: field of %d bytes", ErrInvalidData, size)
	}
	return infectious.NewFEC(size, size*FieldExpansion)
}

// EncodeField protects a short metadata field of at most 85 bytes with its
// own Reed-Solomon codeword.
func EncodeField(field []byte) ([]byte, error) {
	code, err := fieldCode(len(field))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(field)*FieldExpansion)
	err = code.Encode(field, func(s infectious.Share) {
		out[s.Number] = s.Data[0]
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	return out, nil
}

// DecodeField corrects and returns a field of size bytes written by
// EncodeField.
func DecodeField(buf []byte, size int) ([]byte, error) {
	code, err := fieldCode(size)
	if err != nil {
		return nil, err
	}
	if len(buf) != size*FieldExpansion {
		return nil, fmt.Errorf("%w: field length %d, expected %d", ErrInvalidData, len(buf), size*FieldExpansion)
	}

	shares := make([]infectious.Share, len(buf))
	for i := range shares {
		shares[i] = infectious.Share{Number: i, Data: []byte{buf[i]}}
	}
	field, err := code.Decode(nil, shares)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodingFailed, err)
	}
	return field, nil
}

// Marshal serializes enc as
// [rs(original_size u32, redundancy u8, digest 8)][codewords...].
func (enc *EncodedData) Marshal() ([]byte, error) {
	prefix := make([]byte, prefixFieldSize)
	binary.LittleEndian.PutUint32(prefix[0:4], uint32(enc.OriginalSize))
	prefix[4] = byte(enc.RedundancyPercent)
	copy(prefix[5:], enc.Digest[:])

	protected, err := EncodeField(prefix)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, ContainerPrefix+len(enc.Data))
	buf = append(buf, protected...)
	buf = append(buf, enc.Data...)
	return buf, nil
}

// UnmarshalEncodedData parses the output of Marshal, correcting the prefix.
// Sizes derived from the redundancy are filled in; Decode validates them
// against the buffer.
func UnmarshalEncodedData(buf []byte) (*EncodedData, error) {
	if len(buf) < ContainerPrefix {
		return nil, fmt.Errorf("%w: container truncated", ErrInvalidData)
	}

	prefix, err := DecodeField(buf[:ContainerPrefix], prefixFieldSize)
	if err != nil {
		return nil, fmt.Errorf("container prefix: %w", err)
	}

	enc := &EncodedData{
		OriginalSize:      int(binary.LittleEndian.Uint32(prefix[0:4])),
		RedundancyPercent: int(prefix[4]),
		BlockSize:         BlockSize,
		Data:              append([]byte(nil), buf[ContainerPrefix:]...),
	}
	copy(enc.Digest[:], prefix[5:5+DigestSize])

	if enc.RedundancyPercent >= MinRedundancy && enc.RedundancyPercent <= MaxRedundancy {
		enc.ParityPerBlock = ParityForRedundancy(enc.RedundancyPercent)
		enc.DataPerBlock = BlockSize - enc.ParityPerBlock
	}
	return enc, nil
}
