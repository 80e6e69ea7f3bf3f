package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateRandomBytes(KeySize)
	require.NoError(t, err)
	return key
}

func TestDeriveKey(t *testing.T) {
	salt := make([]byte, SaltSize)
	for i := range salt {
		salt[i] = byte(i)
	}

	key1, err := DeriveKey([]byte("test-passphrase-123"), salt, 1000)
	require.NoError(t, err)
	assert.Len(t, key1, KeySize)

	// Same inputs should produce same key
	key2, err := DeriveKey([]byte("test-passphrase-123"), salt, 1000)
	require.NoError(t, err)
	assert.Equal(t, key1, key2)

	key3, err := DeriveKey([]byte("different-passphrase"), salt, 1000)
	require.NoError(t, err)
	assert.NotEqual(t, key1, key3)

	key4, err := DeriveKey([]byte("test-passphrase-123"), salt, 1001)
	require.NoError(t, err)
	assert.NotEqual(t, key1, key4)
}

func TestDeriveKeyEdgeInputs(t *testing.T) {
	zeroSalt := make([]byte, MinSalt)

	key, err := DeriveKey(nil, zeroSalt, 1)
	require.NoError(t, err)
	assert.Len(t, key, KeySize)

	_, err = DeriveKey([]byte("pw"), zeroSalt, 0)
	assert.ErrorIs(t, err, ErrInvalidIterations)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)
	iv, err := GenerateIV()
	require.NoError(t, err)

	plaintexts := [][]byte{
		[]byte("This is a secret message that needs to be encrypted!"),
		bytes.Repeat([]byte{0xAB}, 4096),
		{0x00},
	}

	for _, pt := range plaintexts {
		ct, err := EncryptData(pt, key, iv)
		require.NoError(t, err)
		assert.Len(t, ct, len(pt)+TagSize)

		out, err := DecryptData(ct, key, iv)
		require.NoError(t, err)
		assert.Equal(t, pt, out)
	}
}

func TestEncryptEmptyPlaintext(t *testing.T) {
	key := testKey(t)
	iv, err := GenerateIV()
	require.NoError(t, err)

	ct, err := EncryptData(nil, key, iv)
	require.NoError(t, err)
	assert.Len(t, ct, TagSize)

	out, err := DecryptData(ct, key, iv)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestEncryptRejectsBadSizes(t *testing.T) {
	iv := make([]byte, IVSize)

	_, err := EncryptData([]byte("x"), make([]byte, 16), iv)
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = EncryptData([]byte("x"), make([]byte, KeySize), make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidIVSize)

	_, err = DecryptData(make([]byte, 32), make([]byte, 31), iv)
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestDecryptShortInput(t *testing.T) {
	_, err := DecryptData(make([]byte, TagSize-1), make([]byte, KeySize), make([]byte, IVSize))
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestDecryptDetectsEverySingleBitFlip(t *testing.T) {
	key := testKey(t)
	iv, err := GenerateIV()
	require.NoError(t, err)

	ct, err := EncryptData([]byte("sixteen byte msg"), key, iv)
	require.NoError(t, err)

	for i := 0; i < len(ct); i++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := append([]byte(nil), ct...)
			corrupted[i] ^= 1 << bit
			_, err := DecryptData(corrupted, key, iv)
			require.ErrorIsf(t, err, ErrDecryptionFailed, "byte %d bit %d accepted", i, bit)
		}
	}
}

func TestDecryptWrongKeyOrIV(t *testing.T) {
	key := testKey(t)
	iv, err := GenerateIV()
	require.NoError(t, err)

	ct, err := EncryptData([]byte("payload"), key, iv)
	require.NoError(t, err)

	_, err = DecryptData(ct, testKey(t), iv)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	otherIV, err := GenerateIV()
	require.NoError(t, err)
	_, err = DecryptData(ct, key, otherIV)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestAADIsAuthenticated(t *testing.T) {
	key := testKey(t)
	iv, err := GenerateIV()
	require.NoError(t, err)

	ct, err := EncryptDataWithAAD([]byte("payload"), key, iv, []byte("header-v2"))
	require.NoError(t, err)

	_, err = DecryptDataWithAAD(ct, key, iv, []byte("header-v3"))
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	out, err := DecryptDataWithAAD(ct, key, iv, []byte("header-v2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), out)
}

func TestGenerateRandomBytes(t *testing.T) {
	a, err := GenerateRandomBytes(32)
	require.NoError(t, err)
	b, err := GenerateRandomBytes(32)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, make([]byte, 32), a)
	assert.NotEqual(t, bytes.Repeat([]byte{0xFF}, 32), a)
}

func TestSecureBufferDestroy(t *testing.T) {
	src := []byte("0123456789abcdef0123456789abcdef")
	sb, _ := NewSecureBuffer(src) // pinning failure is non-fatal
	require.NotNil(t, sb)
	assert.Equal(t, src, sb.Bytes())

	backing := sb.Bytes()
	_ = sb.Destroy()
	assert.Equal(t, make([]byte, len(src)), backing)
	assert.Nil(t, sb.Bytes())
	assert.False(t, sb.Locked())

	// idempotent
	assert.NoError(t, sb.Destroy())
}

func TestZeroize(t *testing.T) {
	data := []byte("sensitive")
	Zeroize(data)
	assert.Equal(t, make([]byte, 9), data)
}
