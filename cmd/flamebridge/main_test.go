package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/DoyleJ11/flamebridge/internal/config"
)

func TestRootCmd_RejectsBadMode(t *testing.T) {
	t.Setenv("API_URL", "http://localhost:1/api")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--mode", "relay"})
	err := cmd.ExecuteContext(context.Background())
	require.ErrorIs(t, err, config.ErrConfiguration)
}

func TestRootCmd_MissingEnvFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")})
	err := cmd.ExecuteContext(context.Background())
	require.ErrorIs(t, err, config.ErrConfiguration)
}

func TestRootCmd_RejectsArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"extra"})
	require.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestNewLogger(t *testing.T) {
	log, err := newLogger("warn", "console")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	_, err = newLogger("loud", "json")
	require.Error(t, err)
}
