package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewApp_Version(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	logFile := filepath.Join(t.TempDir(), "vector.log")

	var out bytes.Buffer
	app := NewApp("1.0.0", "0123456789abcdef", "2026-01-01T00:00:00Z")
	app.Writer = &out

	err := app.Run(context.Background(), []string{
		"vector", "--log-format", "json", "--log-file", logFile, "version",
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0 (revision: 0123456) built on 2026-01-01T00:00:00Z\n", out.String())

	_, err = os.Stat(logFile)
	assert.NoError(t, err)
}

func TestNewApp_InvalidLogLevel(t *testing.T) {
	app := NewApp("1.0.0", "0123456789abcdef", "now")
	app.ErrWriter = &bytes.Buffer{}

	err := app.Run(context.Background(), []string{"vector", "--log-level", "loud", "version"})
	assert.ErrorContains(t, err, "invalid log level")
}

func TestVcsRevision(t *testing.T) {
	assert.Equal(t, "abc1234", vcsRevision("abc1234", "0000000"))
}
