package fec

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleData(n int) []byte {
	r := rand.New(rand.NewPCG(7, uint64(n)))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.UintN(256))
	}
	return b
}

func newCoder(t *testing.T, percent int) *ReedSolomon {
	t.Helper()
	rs, err := New(percent)
	require.NoError(t, err)
	return rs
}

func TestNewRejectsOutOfRangeRedundancy(t *testing.T) {
	for _, p := range []int{-1, 0, 4, 51, 100} {
		_, err := New(p)
		assert.ErrorIsf(t, err, ErrInvalidRedundancy, "percent %d", p)
	}
	for _, p := range []int{5, 20, 50} {
		_, err := New(p)
		assert.NoErrorf(t, err, "percent %d", p)
	}
}

func TestSetRedundancyPercentKeepsStateOnFailure(t *testing.T) {
	rs := newCoder(t, 30)
	before := rs.CalculateEncodedSize(1000)

	err := rs.SetRedundancyPercent(60)
	assert.ErrorIs(t, err, ErrInvalidRedundancy)
	assert.Equal(t, 30, rs.RedundancyPercent())
	assert.Equal(t, before, rs.CalculateEncodedSize(1000))
}

func TestGeometry(t *testing.T) {
	rs := newCoder(t, 20)
	assert.Equal(t, 52, rs.ParityPerBlock())
	assert.Equal(t, 203, rs.DataPerBlock())
	assert.Equal(t, 10.0, rs.MaxCorrectablePercent())

	assert.Equal(t, 0, rs.CalculateEncodedSize(0))
	assert.Equal(t, 255, rs.CalculateEncodedSize(1))
	assert.Equal(t, 255, rs.CalculateEncodedSize(203))
	assert.Equal(t, 510, rs.CalculateEncodedSize(204))

	assert.Equal(t, 14, ParityForRedundancy(5))
	assert.Equal(t, 128, ParityForRedundancy(50))
}

func TestEncodeEmptyInput(t *testing.T) {
	_, err := newCoder(t, 20).Encode(nil)
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestRoundTripWithoutCorruption(t *testing.T) {
	rs := newCoder(t, 20)
	for _, n := range []int{1, 100, 203, 204, 1000} {
		data := sampleData(n)
		enc, err := rs.Encode(data)
		require.NoError(t, err)
		assert.Equal(t, n, enc.OriginalSize)
		assert.Len(t, enc.Data, rs.CalculateEncodedSize(n))
		assert.Equal(t, data[:min(n, rs.DataPerBlock())], enc.Data[:min(n, rs.DataPerBlock())], "code is systematic")

		out, err := rs.Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, data, out)
	}
}

func TestDecodeCorrectsCorruption(t *testing.T) {
	rs := newCoder(t, 20)
	capacity := rs.ParityPerBlock() / 2

	tests := []struct {
		name    string
		corrupt func(codeword []byte)
	}{
		{"single byte", func(c []byte) { c[17] ^= 0xFF }},
		{"scattered at capacity", func(c []byte) {
			for i := 0; i < capacity; i++ {
				c[i*9] ^= byte(i + 1)
			}
		}},
		{"parity only", func(c []byte) {
			for i := 0; i < capacity; i++ {
				c[rs.DataPerBlock()+i] ^= 0x5A
			}
		}},
		{"burst", func(c []byte) {
			for i := 100; i < 100+capacity; i++ {
				c[i] ^= 0x01
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := sampleData(500)
			enc, err := rs.Encode(data)
			require.NoError(t, err)

			for b := 0; b < enc.BlockCount; b++ {
				tt.corrupt(enc.Data[b*BlockSize : (b+1)*BlockSize])
			}

			out, err := rs.Decode(enc)
			require.NoError(t, err)
			assert.Equal(t, data, out)
		})
	}
}

func TestDecodeFailsBeyondCapacity(t *testing.T) {
	rs := newCoder(t, 20)
	data := sampleData(300)
	enc, err := rs.Encode(data)
	require.NoError(t, err)

	// Zero every parity byte of the first block and damage its data as well.
	first := enc.Data[:BlockSize]
	for i := rs.DataPerBlock(); i < BlockSize; i++ {
		first[i] = 0
	}
	for i := 0; i < 10; i++ {
		first[i] ^= 0xA5
	}

	_, err = rs.Decode(enc)
	assert.ErrorIs(t, err, ErrDecodingFailed)
}

func TestDecodeRejectsMalformedContainers(t *testing.T) {
	rs := newCoder(t, 20)
	enc, err := rs.Encode(sampleData(50))
	require.NoError(t, err)

	tests := []struct {
		name string
		enc  *EncodedData
	}{
		{"nil", nil},
		{"zero size", &EncodedData{OriginalSize: 0, RedundancyPercent: 20, Data: enc.Data}},
		{"empty buffer", &EncodedData{OriginalSize: 50, RedundancyPercent: 20}},
		{"short buffer", &EncodedData{OriginalSize: 50, RedundancyPercent: 20, Data: enc.Data[:200]}},
		{"size larger than buffer", &EncodedData{OriginalSize: 5000, RedundancyPercent: 20, Data: enc.Data}},
		{"redundancy mismatch", &EncodedData{OriginalSize: 50, RedundancyPercent: 30, Data: enc.Data}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rs.Decode(tt.enc)
			assert.ErrorIs(t, err, ErrInvalidData)
		})
	}
}

func TestContainerMarshalRoundTrip(t *testing.T) {
	rs := newCoder(t, 35)
	data := sampleData(420)
	enc, err := rs.Encode(data)
	require.NoError(t, err)

	raw, err := enc.Marshal()
	require.NoError(t, err)
	raw[ContainerPrefix+3] ^= 0x10 // one corrupted codeword byte

	parsed, err := UnmarshalEncodedData(raw)
	require.NoError(t, err)
	assert.Equal(t, 35, parsed.RedundancyPercent)
	assert.Equal(t, rs.ParityPerBlock(), parsed.ParityPerBlock)

	out, err := rs.Decode(parsed)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	_, err = UnmarshalEncodedData(raw[:5])
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestContainerPrefixCorruptionRepaired(t *testing.T) {
	rs := newCoder(t, 20)
	data := sampleData(300)
	enc, err := rs.Encode(data)
	require.NoError(t, err)

	raw, err := enc.Marshal()
	require.NoError(t, err)
	require.Len(t, raw, ContainerPrefix+len(enc.Data))

	// Original size, redundancy, a digest byte and a parity byte.
	for _, off := range []int{0, 4, 7, 30} {
		raw[off] ^= 0x5A
	}

	parsed, err := UnmarshalEncodedData(raw)
	require.NoError(t, err)
	assert.Equal(t, 300, parsed.OriginalSize)
	assert.Equal(t, 20, parsed.RedundancyPercent)
	assert.Equal(t, enc.Digest, parsed.Digest)

	out, err := rs.Decode(parsed)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestFieldCorrection(t *testing.T) {
	field := []byte{0x01, 0xDE, 0xAD, 0xBE, 0xEF}
	encoded, err := EncodeField(field)
	require.NoError(t, err)
	require.Len(t, encoded, len(field)*FieldExpansion)

	for _, off := range []int{0, 3, 8, 14} {
		encoded[off] ^= 0xFF
	}
	got, err := DecodeField(encoded, len(field))
	require.NoError(t, err)
	assert.Equal(t, field, got)

	_, err = DecodeField(encoded[:10], len(field))
	assert.ErrorIs(t, err, ErrInvalidData)

	_, err = EncodeField(make([]byte, 86))
	assert.ErrorIs(t, err, ErrInvalidData)
	_, err = EncodeField(nil)
	assert.ErrorIs(t, err, ErrInvalidData)
}
