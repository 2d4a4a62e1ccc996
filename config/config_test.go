package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_ParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring.toml")
	body := `
path = "/tmp/demo.ring"
capacity = 1024
max_message_size = 64
mode = "nonblocking"
consumers = 3
checksum = true
fall_behind_tolerance = 0.5
delete_on_close = true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/demo.ring", cfg.Path)
	require.Equal(t, 1024, cfg.Capacity)
	require.Equal(t, 64, cfg.MaxMessageSize)
	require.Equal(t, "nonblocking", cfg.Mode)
	require.Equal(t, 3, cfg.Consumers)
	require.True(t, cfg.Checksum)
	require.InDelta(t, 0.5, cfg.FallBehindTolerance, 1e-9)
	require.True(t, cfg.DeleteOnClose)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
