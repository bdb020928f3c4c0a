package main

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	saved := os.Args
	os.Args = append([]string{"alertd"}, args...)
	t.Cleanup(func() { os.Args = saved })
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunExitCodes(t *testing.T) {
	t.Run("help", func(t *testing.T) {
		withArgs(t, "--help")
		assert.Equal(t, 0, run())
	})
	t.Run("unknown flag", func(t *testing.T) {
		withArgs(t, "--no-such-flag")
		assert.Equal(t, 2, run())
	})
	t.Run("invalid config", func(t *testing.T) {
		withArgs(t, "--config", writeConfig(t, "auth:\n  jwtSecret: \"\"\n"))
		assert.Equal(t, 1, run())
	})
}

// A failing server returns from run instead of exiting, so deferred
// cleanup still happens.
func TestRunReturnsWhenServerCannotListen(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	withArgs(t,
		"--config", writeConfig(t, "auth:\n  jwtSecret: test-secret\n"),
		"--addr", busy.Addr().String(),
		"--log-level", "error",
	)
	assert.Equal(t, 1, run())
}
