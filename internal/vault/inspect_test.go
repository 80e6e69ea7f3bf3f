package vault

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keeptower/keeptower/internal/format"
)

func TestInspectV1(t *testing.T) {
	m, path := newV1(t)
	require.NoError(t, m.CloseVault())

	r, err := InspectVault(path)
	require.NoError(t, err)
	assert.Equal(t, format.VersionV1, r.Version)
	assert.Equal(t, uint32(testIterations), r.Iterations)
	assert.Equal(t, 4+4+4+32+12, r.HeaderBytes)
	assert.Equal(t, -1, r.RepairedBytes)
	assert.Nil(t, r.Policy)
	assert.Contains(t, r.Findings(), "PBKDF2 iteration count 1000 is low")
}

func TestInspectV2(t *testing.T) {
	m, path := newV2(t, testPolicy())
	require.NoError(t, m.CloseVault())

	r, err := InspectVault(path)
	require.NoError(t, err)
	assert.Equal(t, format.VersionV2, r.Version)
	assert.True(t, r.FECEnabled)
	assert.Equal(t, 1, r.KeySlots)
	assert.Equal(t, 1, r.ActiveSlots)
	assert.Equal(t, 1, r.Administrators)
	require.NotNil(t, r.Policy)
	assert.Equal(t, uint32(5), r.Policy.PasswordHistoryDepth)
	assert.Equal(t, r.Size, int64(r.HeaderBytes+r.PayloadBytes))
}

func TestInspectFlagsLoosePermissions(t *testing.T) {
	m, path := newV1(t)
	require.NoError(t, m.CloseVault())
	require.NoError(t, os.Chmod(path, 0o644))

	r, err := InspectVault(path)
	require.NoError(t, err)
	assert.False(t, r.Healthy())
	assert.Contains(t, r.Findings()[0], "permissions 644")
}

func TestInspectRejectsGarbage(t *testing.T) {
	path := vaultPath(t)
	require.NoError(t, os.WriteFile(path, []byte("KTVF\x09\x00\x00\x00garbage"), 0o600))
	_, err := InspectVault(path)
	assert.ErrorIs(t, err, format.ErrUnsupportedVersion)

	_, err = InspectVault(path + ".missing")
	assert.Error(t, err)
}
