package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	content := "debugger: dap\ndlv_path: /opt/delve/dlv\nlisten: 127.0.0.1:12763\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "dap", cfg.Debugger)
	assert.Equal(t, "/opt/delve/dlv", cfg.DlvPath)
	assert.Equal(t, "127.0.0.1:12763", cfg.Listen)
}

func TestDefaultListenIsStdio(t *testing.T) {
	// an empty listen address keeps `gobreak serve` on stdio
	assert.Empty(t, Default().Listen)
}

func TestLoadEmptyFieldsKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("debugger: \"\"\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Debugger, cfg.Debugger)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("debugger: [unclosed"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}
