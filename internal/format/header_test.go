package format

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keeptower/keeptower/internal/fec"
)

func sampleHeader() *VaultHeaderV2 {
	admin := hashedSlot()
	admin.Role = RoleAdministrator
	admin.PasswordHistory = nil

	h := &VaultHeaderV2{
		Policy:   samplePolicy(),
		KeySlots: []*KeySlot{admin, hashedSlot()},
	}
	for i := range h.DataSalt {
		h.DataSalt[i] = byte(3 * i)
	}
	for i := range h.DataIV {
		h.DataIV[i] = byte(7 * i)
	}
	return h
}

func TestHeaderRoundTripPlain(t *testing.T) {
	h := sampleHeader()
	raw, err := WriteHeader(h, false, 0)
	require.NoError(t, err)

	payload := []byte("ciphertext-and-tag")
	file := append(raw, payload...)

	got, off, err := ReadHeader(file)
	require.NoError(t, err)
	assert.Equal(t, len(raw), off)
	assert.Equal(t, payload, file[off:])
	assert.False(t, got.FECEnabled)

	assert.Equal(t, h.Policy, got.Policy)
	assert.Equal(t, h.KeySlots, got.KeySlots)
	assert.Equal(t, h.DataSalt, got.DataSalt)
	assert.Equal(t, h.DataIV, got.DataIV)

	body, err := h.SerializeBody()
	require.NoError(t, err)
	assert.Equal(t, body, got.RawBody())
	assert.Nil(t, h.RawBody())
}

func TestHeaderRoundTripFEC(t *testing.T) {
	h := sampleHeader()
	raw, err := WriteHeader(h, true, 30)
	require.NoError(t, err)

	got, off, err := ReadHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, len(raw), off)
	assert.True(t, got.FECEnabled)
	assert.Equal(t, 30, got.FECRedundancy)
	assert.Equal(t, h.KeySlots, got.KeySlots)
}

func TestHeaderFECRepairsCorruption(t *testing.T) {
	h := sampleHeader()
	raw, err := WriteHeader(h, true, 20)
	require.NoError(t, err)

	// Damage a handful of bytes inside the first codeword.
	start := v2PrefixSize + fec.ContainerPrefix
	for i := 0; i < 10; i++ {
		raw[start+i*11] ^= 0xFF
	}

	got, _, err := ReadHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, h.Policy, got.Policy)
	assert.Equal(t, h.KeySlots, got.KeySlots)
}

func TestHeaderPrefixCorruptionRepaired(t *testing.T) {
	h := sampleHeader()
	raw, err := WriteHeader(h, true, 20)
	require.NoError(t, err)

	// Iterations, flags, block length, then the container prefix.
	damaged := bytes.Clone(raw)
	damaged[9] ^= 0x40
	damaged[commonPrefixSize] ^= 0x01
	damaged[commonPrefixSize+2] ^= 0x80
	damaged[v2PrefixSize+4] ^= 0x01
	damaged[v2PrefixSize+6] ^= 0xFF
	damaged[v2PrefixSize+fec.ContainerPrefix-1] ^= 0x10

	got, off, err := ReadHeader(damaged)
	require.NoError(t, err)
	assert.Equal(t, len(raw), off)
	assert.True(t, got.FECEnabled)
	assert.Equal(t, 20, got.FECRedundancy)
	assert.Equal(t, h.Policy, got.Policy)
	assert.Equal(t, h.KeySlots, got.KeySlots)

	// The iteration count is rewritten from the policy.
	clean, err := WriteHeader(got, got.FECEnabled, got.FECRedundancy)
	require.NoError(t, err)
	assert.Equal(t, raw, clean)
}

func TestHeaderPrefixIterationsFollowPolicy(t *testing.T) {
	h := sampleHeader()
	raw, err := WriteHeader(h, false, 0)
	require.NoError(t, err)
	assert.Equal(t, h.Policy.PBKDF2Iterations, binary.LittleEndian.Uint32(raw[8:12]))

	binary.LittleEndian.PutUint32(raw[8:12], 1)
	got, _, err := ReadHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(600000), got.Policy.PBKDF2Iterations)
}

func TestHeaderPlainCorruptionDetected(t *testing.T) {
	raw, err := WriteHeader(sampleHeader(), false, 0)
	require.NoError(t, err)

	// Slot count claims more slots than present.
	countOff := v2PrefixSize + 2 + PolicySize
	binary.LittleEndian.PutUint16(raw[countOff:], 9)
	_, _, err = ReadHeader(raw)
	assert.Error(t, err)
}

func TestHeaderFECRedundancyClamp(t *testing.T) {
	h := sampleHeader()

	zero, err := WriteHeader(h, true, 0)
	require.NoError(t, err)
	ten, err := WriteHeader(h, true, 10)
	require.NoError(t, err)
	twenty, err := WriteHeader(h, true, 20)
	require.NoError(t, err)
	fifty, err := WriteHeader(h, true, 50)
	require.NoError(t, err)

	assert.Equal(t, len(zero), len(ten))
	assert.Equal(t, len(zero), len(twenty))
	assert.Greater(t, len(fifty), len(twenty))

	got, _, err := ReadHeader(ten)
	require.NoError(t, err)
	assert.Equal(t, MinHeaderRedundancy, got.FECRedundancy)

	body, err := h.SerializeBody()
	require.NoError(t, err)
	assert.Equal(t, len(ten)-v2PrefixSize, HeaderBlockSize(len(body), true, 10))
	assert.Equal(t, len(body), HeaderBlockSize(len(body), false, 10))
}

func TestReadHeaderRejectsBadInput(t *testing.T) {
	raw, err := WriteHeader(sampleHeader(), false, 0)
	require.NoError(t, err)

	_, _, err = ReadHeader(nil)
	assert.ErrorIs(t, err, ErrTruncated)

	_, _, err = ReadHeader([]byte{1})
	assert.ErrorIs(t, err, ErrTruncated)

	bad := bytes.Clone(raw)
	bad[0] = 'X'
	_, _, err = ReadHeader(bad)
	assert.ErrorIs(t, err, ErrInvalidMagic)

	bad = bytes.Clone(raw)
	binary.LittleEndian.PutUint32(bad[4:], 3)
	_, _, err = ReadHeader(bad)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, _, err = ReadHeader(raw[:len(raw)-1])
	assert.ErrorIs(t, err, ErrTruncated)

	assert.True(t, IsValidV2Vault(raw))
	assert.False(t, IsValidV2Vault(raw[:20]))
}

func TestDetectVersion(t *testing.T) {
	v2, err := WriteHeader(sampleHeader(), false, 0)
	require.NoError(t, err)
	version, err := DetectVersion(v2)
	require.NoError(t, err)
	assert.Equal(t, VersionV2, version)

	v1 := WriteV1(&V1Header{Iterations: 1000}, make([]byte, 16))
	version, err = DetectVersion(v1)
	require.NoError(t, err)
	assert.Equal(t, VersionV1, version)

	_, err = DetectVersion(make([]byte, 64))
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestV1RoundTrip(t *testing.T) {
	h := &V1Header{Iterations: 250000}
	h.Salt[0] = 0xAB
	h.IV[11] = 0xCD
	ct := bytes.Repeat([]byte{0x42}, 40)

	got, body, err := ReadV1(WriteV1(h, ct))
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, ct, body)
}

func TestReadV1Legacy(t *testing.T) {
	salt := bytes.Repeat([]byte{1}, 32)
	iv := bytes.Repeat([]byte{2}, 12)
	ct := bytes.Repeat([]byte{3}, 24)
	file := append(append(append([]byte{}, salt...), iv...), ct...)

	h, body, err := ReadV1(file)
	require.NoError(t, err)
	assert.True(t, h.Legacy)
	assert.Equal(t, uint32(LegacyIterations), h.Iterations)
	assert.Equal(t, salt, h.Salt[:])
	assert.Equal(t, iv, h.IV[:])
	assert.Equal(t, ct, body)

	_, _, err = ReadV1(file[:50])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestReadV1RejectsV2(t *testing.T) {
	v2, err := WriteHeader(sampleHeader(), false, 0)
	require.NoError(t, err)
	_, _, err = ReadV1(v2)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}
