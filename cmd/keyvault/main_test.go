package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSealer(t *testing.T) {
	dir := t.TempDir()
	cfg := defaultConfig()
	cfg.DBPath = filepath.Join(dir, "vault.db")

	s, err := newSealer(cfg)
	require.NoError(t, err)
	assert.False(t, s.Enabled(), "no passphrase means plaintext storage")

	cfg.SealPassphrase = "correct horse battery staple"
	s, err = newSealer(cfg)
	require.NoError(t, err)
	assert.True(t, s.Enabled())
	assert.FileExists(t, filepath.Join(dir, "seal.salt"))

	// A second sealer built from the same passphrase and salt file must
	// open values sealed by the first.
	sealed, err := s.Seal([]byte(`"hunter2"`))
	require.NoError(t, err)

	s2, err := newSealer(cfg)
	require.NoError(t, err)
	plain, err := s2.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, `"hunter2"`, string(plain))
}

func TestNewLoggerLevels(t *testing.T) {
	ctx := context.Background()
	assert.True(t, newLogger("debug").Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger("info").Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger("warn").Enabled(ctx, slog.LevelInfo))
	assert.True(t, newLogger("bogus").Enabled(ctx, slog.LevelInfo), "unknown level falls back to info")
}
