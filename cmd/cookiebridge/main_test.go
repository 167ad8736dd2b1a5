package main

import (
	"flag"
	"testing"

	"github.com/codefionn/cookiebridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs([]string{"-config", "/tmp/cb.json", "-port", "18000"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/cb.json", opts.configPath)
	assert.Equal(t, 18000, opts.port)
	assert.Empty(t, opts.translate)

	opts, err = parseArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, config.GetConfigPath(), opts.configPath)
	assert.Zero(t, opts.port)
}

func TestParseArgsRejectsBadInput(t *testing.T) {
	_, err := parseArgs([]string{"-port", "70000"})
	assert.ErrorIs(t, err, config.ErrInvalidPort)

	_, err = parseArgs([]string{"stray"})
	assert.Error(t, err)

	_, err = parseArgs([]string{"-h"})
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("COOKIEBRIDGE_LOG_LEVEL", " debug ")
	t.Setenv("COOKIEBRIDGE_LOG_PATH", "-")

	cfg := config.DefaultConfig()
	applyEnvOverrides(cfg)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "-", cfg.LogPath)
}

func TestEnsureSecretsPasswordWithoutPassword(t *testing.T) {
	cfg := config.DefaultConfig()
	pw, err := ensureSecretsPassword(cfg)
	require.NoError(t, err)
	assert.Empty(t, pw)

	_, err = ensureSecretsPassword(nil)
	assert.Error(t, err)
}
