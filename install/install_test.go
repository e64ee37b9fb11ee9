package install

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobreak/gobreak/breakpoint"
)

func TestInstallUninstall(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, Installed(dir))

	path, err := Install(dir)
	require.NoError(t, err)
	assert.True(t, Installed(dir))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), breakpoint.Symbol,
		"init script must reference the marker symbol")
	assert.Contains(t, string(data), "break gobreak_marker")
	assert.Contains(t, string(data), "kill -CONT",
		"init script must tell manual attachers how to release the gate")

	require.NoError(t, Uninstall(dir))
	assert.False(t, Installed(dir))
}

func TestInstallOverwrites(t *testing.T) {
	dir := t.TempDir()

	path, err := Install(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0644))

	_, err = Install(dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, "stale", string(data))
}

func TestUninstallMissingIsNoError(t *testing.T) {
	require.NoError(t, Uninstall(t.TempDir()))
}
