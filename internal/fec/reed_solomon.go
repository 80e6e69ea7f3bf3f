// Package fec protects small buffers such as the vault header against partial
// corruption with a systematic Reed-Solomon code over GF(2^8).
//
// Data is split into 255-byte codewords. The share of parity bytes in each
// codeword follows the configured redundancy percentage, and up to half of
// the parity bytes of a codeword may be corrupted at unknown positions before
// decoding fails.
package fec

import (
	"errors"
	"fmt"

	"github.com/vivint/infectious"
	"golang.org/x/crypto/sha3"
)

const (
	// BlockSize is the codeword length; the largest RS code over GF(2^8).
	BlockSize = 255

	MinRedundancy     = 5
	MaxRedundancy     = 50
	DefaultRedundancy = 20

	// DigestSize is the length of the stored digest of the original bytes.
	DigestSize = 8
)

var (
	ErrInvalidRedundancy = errors.New("redundancy percent out of range")
	ErrInvalidData       = errors.New("invalid fec data")
	ErrEncodingFailed    = errors.New("fec encoding failed")
	ErrDecodingFailed    = errors.New("fec decoding failed")
)

// EncodedData is the container produced by Encode.
type EncodedData struct {
	OriginalSize      int
	RedundancyPercent int
	BlockSize         int
	BlockCount        int
	DataPerBlock      int
	ParityPerBlock    int
	Digest            [DigestSize]byte
	Data              []byte
}

// ReedSolomon encodes and decodes EncodedData at a fixed redundancy.
type ReedSolomon struct {
	redundancy int
	parity     int
	code       *infectious.FEC
}

// New constructs a coder for redundancyPercent in [MinRedundancy, MaxRedundancy].
func New(redundancyPercent int) (*ReedSolomon, error) {
	rs := &ReedSolomon{}
	if err := rs.SetRedundancyPercent(redundancyPercent); err != nil {
		return nil, err
	}
	return rs, nil
}

// ParityForRedundancy returns the parity bytes per codeword for a percentage.
// The count is rounded up to an even number so that exactly half of it can
// be corrected.
func ParityForRedundancy(percent int) int {
	parity := (BlockSize*percent + 99) / 100
	if parity%2 != 0 {
		parity++
	}
	return parity
}

// SetRedundancyPercent reconfigures the coder. An unsupported value returns
// ErrInvalidRedundancy and leaves the previous configuration untouched.
func (rs *ReedSolomon) SetRedundancyPercent(percent int) error {
	if percent < MinRedundancy || percent > MaxRedundancy {
		return fmt.Errorf("%w: %d (allowed %d-%d)", ErrInvalidRedundancy, percent, MinRedundancy, MaxRedundancy)
	}

	parity := ParityForRedundancy(percent)
	code, err := infectious.NewFEC(BlockSize-parity, BlockSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRedundancy, err)
	}

	rs.redundancy = percent
	rs.parity = parity
	rs.code = code
	return nil
}

// RedundancyPercent returns the configured percentage.
func (rs *ReedSolomon) RedundancyPercent() int {
	return rs.redundancy
}

// MaxCorrectablePercent is the largest fraction of corrupted bytes per
// codeword, in percent, that Decode is advertised to recover.
func (rs *ReedSolomon) MaxCorrectablePercent() float64 {
	return float64(rs.redundancy) / 2
}

// DataPerBlock returns the payload bytes carried by one codeword.
func (rs *ReedSolomon) DataPerBlock() int {
	return BlockSize - rs.parity
}

// ParityPerBlock returns the parity bytes carried by one codeword.
func (rs *ReedSolomon) ParityPerBlock() int {
	return rs.parity
}

// CalculateEncodedSize returns the encoded buffer length for n input bytes.
func (rs *ReedSolomon) CalculateEncodedSize(n int) int {
	if n <= 0 {
		return 0
	}
	return rs.blocksFor(n) * BlockSize
}

func (rs *ReedSolomon) blocksFor(n int) int {
	per := rs.DataPerBlock()
	return (n + per - 1) / per
}

// Encode pads data to whole codewords and appends parity to each.
func (rs *ReedSolomon) Encode(data []byte) (*EncodedData, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidData)
	}

	per := rs.DataPerBlock()
	blocks := rs.blocksFor(len(data))
	out := make([]byte, blocks*BlockSize)
	chunk := make([]byte, per)

	for b := 0; b < blocks; b++ {
		// Final block is zero padded
		for i := range chunk {
			chunk[i] = 0
		}
		copy(chunk, data[b*per:])

		codeword := out[b*BlockSize : (b+1)*BlockSize]
		err := rs.code.Encode(chunk, func(s infectious.Share) {
			codeword[s.Number] = s.Data[0]
		})
		if err != nil {
			return nil, fmt.Errorf("%w: block %d: %v", ErrEncodingFailed, b, err)
		}
	}

	return &EncodedData{
		OriginalSize:      len(data),
		RedundancyPercent: rs.redundancy,
		BlockSize:         BlockSize,
		BlockCount:        blocks,
		DataPerBlock:      per,
		ParityPerBlock:    rs.parity,
		Digest:            digest(data),
		Data:              out,
	}, nil
}

// Decode corrects and returns the original bytes. The container is validated
// before any decoding is attempted.
func (rs *ReedSolomon) Decode(enc *EncodedData) ([]byte, error) {
	if err := rs.validate(enc); err != nil {
		return nil, err
	}

	per := rs.DataPerBlock()
	out := make([]byte, 0, enc.BlockCount*per)
	shares := make([]infectious.Share, BlockSize)

	for b := 0; b < enc.BlockCount; b++ {
		codeword := enc.Data[b*BlockSize : (b+1)*BlockSize]
		for i := range shares {
			shares[i] = infectious.Share{Number: i, Data: []byte{codeword[i]}}
		}

		block, err := rs.code.Decode(nil, shares)
		if err != nil {
			return nil, fmt.Errorf("%w: block %d: %v", ErrDecodingFailed, b, err)
		}
		if len(block) != per {
			return nil, fmt.Errorf("%w: block %d: unexpected length %d", ErrDecodingFailed, b, len(block))
		}
		out = append(out, block...)
	}

	out = out[:enc.OriginalSize]
	// A codeword pushed past capacity can land on a different valid
	// codeword; the digest catches that.
	if d := digest(out); d != enc.Digest {
		return nil, fmt.Errorf("%w: digest mismatch", ErrDecodingFailed)
	}
	return out, nil
}

func (rs *ReedSolomon) validate(enc *EncodedData) error {
	switch {
	case enc == nil:
		return fmt.Errorf("%w: nil container", ErrInvalidData)
	case enc.OriginalSize <= 0:
		return fmt.Errorf("%w: original size %d", ErrInvalidData, enc.OriginalSize)
	case len(enc.Data) == 0:
		return fmt.Errorf("%w: empty buffer", ErrInvalidData)
	case enc.RedundancyPercent != rs.redundancy:
		return fmt.Errorf("%w: redundancy %d does not match coder %d", ErrInvalidData, enc.RedundancyPercent, rs.redundancy)
	}

	blocks := rs.blocksFor(enc.OriginalSize)
	if len(enc.Data) != blocks*BlockSize {
		return fmt.Errorf("%w: buffer length %d, expected %d", ErrInvalidData, len(enc.Data), blocks*BlockSize)
	}
	if enc.BlockCount != 0 && enc.BlockCount != blocks {
		return fmt.Errorf("%w: block count %d, expected %d", ErrInvalidData, enc.BlockCount, blocks)
	}
	enc.BlockCount = blocks
	return nil
}

func digest(data []byte) [DigestSize]byte {
	sum := sha3.Sum256(data)
	var d [DigestSize]byte
	copy(d[:], sum[:DigestSize])
	return d
}
