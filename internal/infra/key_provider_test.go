package infra

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testKeyProvider(t *testing.T, hostID string) *MachineKeyProvider {
	t.Helper()
	p := NewMachineKeyProvider(t.TempDir(), zap.NewNop())
	p.hostID = func() (string, error) { return hostID, nil }
	return p
}

// TestEnsureKey_StableAcrossCalls verifies the same key comes back once the
// seed exists
func TestEnsureKey_StableAcrossCalls(t *testing.T) {
	p := testKeyProvider(t, "machine-a")

	first, err := p.EnsureKey()
	require.NoError(t, err)
	require.Len(t, first, 32)

	second, err := p.EnsureKey()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// TestEnsureKey_SeedFileFormat verifies the seed is written versioned, hex
// encoded and owner-only
func TestEnsureKey_SeedFileFormat(t *testing.T) {
	dir := t.TempDir()
	p := NewMachineKeyProvider(dir, zap.NewNop())
	p.hostID = func() (string, error) { return "machine-a", nil }

	_, err := p.EnsureKey()
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, seedFileName))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), seedPrefix))
	assert.Len(t, strings.TrimPrefix(string(raw), seedPrefix), seedSize*2)

	info, err := os.Stat(filepath.Join(dir, seedFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

// TestEnsureKey_MachineBound verifies the same seed yields different keys on
// different machines
func TestEnsureKey_MachineBound(t *testing.T) {
	dir := t.TempDir()
	p := NewMachineKeyProvider(dir, zap.NewNop())
	p.hostID = func() (string, error) { return "machine-a", nil }

	keyA, err := p.EnsureKey()
	require.NoError(t, err)

	// Same seed file, different host identity.
	q := NewMachineKeyProvider(dir, zap.NewNop())
	q.hostID = func() (string, error) { return "machine-b", nil }
	keyB, err := q.EnsureKey()
	require.NoError(t, err)

	assert.NotEqual(t, keyA, keyB)
}

// TestEnsureKey_MalformedSeedErrors verifies a tampered seed file is an
// error, not a silent regeneration
func TestEnsureKey_MalformedSeedErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, seedFileName), []byte("not a seed"), 0o600))

	p := NewMachineKeyProvider(dir, zap.NewNop())
	p.hostID = func() (string, error) { return "machine-a", nil }

	_, err := p.EnsureKey()
	assert.Error(t, err)
}

// TestEnsureKey_HostIDFailureDegrades verifies a missing host id still
// produces a usable key
func TestEnsureKey_HostIDFailureDegrades(t *testing.T) {
	p := NewMachineKeyProvider(t.TempDir(), zap.NewNop())
	p.hostID = func() (string, error) { return "", errors.New("no host id") }

	key, err := p.EnsureKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}
