package infra

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempHosts(t *testing.T, content string) *HostsManagerImpl {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return NewHostsManagerWithPath(path)
}

func readHosts(t *testing.T, h *HostsManagerImpl) string {
	t.Helper()
	data, err := os.ReadFile(h.path)
	require.NoError(t, err)
	return string(data)
}

// TestApply_AddsMarkedEntries verifies blocked domains resolve to loopback
func TestApply_AddsMarkedEntries(t *testing.T) {
	h := tempHosts(t, "127.0.0.1 localhost\n")

	require.NoError(t, h.Apply([]string{"youtube.com", "www.youtube.com"}))

	content := readHosts(t, h)
	assert.Contains(t, content, "127.0.0.1 localhost")
	assert.Contains(t, content, "127.0.0.1 youtube.com "+hostsMarker)
	assert.Contains(t, content, "127.0.0.1 www.youtube.com "+hostsMarker)
}

// TestApply_Idempotent verifies reapplying the same list leaves one block
func TestApply_Idempotent(t *testing.T) {
	h := tempHosts(t, "127.0.0.1 localhost\n")

	require.NoError(t, h.Apply([]string{"youtube.com"}))
	require.NoError(t, h.Apply([]string{"youtube.com"}))

	content := readHosts(t, h)
	assert.Equal(t, 1, strings.Count(content, "youtube.com"))
}

// TestApply_ReplacesPreviousBlock verifies a new list removes the old entries
func TestApply_ReplacesPreviousBlock(t *testing.T) {
	h := tempHosts(t, "127.0.0.1 localhost\n")

	require.NoError(t, h.Apply([]string{"youtube.com"}))
	require.NoError(t, h.Apply([]string{"reddit.com"}))

	content := readHosts(t, h)
	assert.NotContains(t, content, "youtube.com")
	assert.Contains(t, content, "reddit.com")
}

// TestClear_KeepsUserEntries verifies only marked lines are removed
func TestClear_KeepsUserEntries(t *testing.T) {
	h := tempHosts(t, "127.0.0.1 localhost\n192.168.1.5 nas.local\n")

	require.NoError(t, h.Apply([]string{"youtube.com"}))
	require.NoError(t, h.Clear())

	content := readHosts(t, h)
	assert.Contains(t, content, "127.0.0.1 localhost")
	assert.Contains(t, content, "192.168.1.5 nas.local")
	assert.NotContains(t, content, hostsMarker)
}

// TestApply_CRLFInput verifies Windows line endings are handled
func TestApply_CRLFInput(t *testing.T) {
	h := tempHosts(t, "127.0.0.1 localhost\r\n192.168.1.5 nas.local\r\n")

	require.NoError(t, h.Apply([]string{"youtube.com"}))

	content := readHosts(t, h)
	assert.Contains(t, content, "192.168.1.5 nas.local")
	assert.Contains(t, content, "youtube.com")
}

// TestClear_MissingFile verifies clearing a non-existent file creates an
// empty one rather than failing
func TestClear_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts")
	h := NewHostsManagerWithPath(path)

	require.NoError(t, h.Clear())
	_, err := os.Stat(path)
	assert.NoError(t, err)
}
