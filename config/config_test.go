package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("GB_PORT")
	os.Unsetenv("GB_HOST")
	cfg := Load()
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 10, cfg.Scheduler.IntervalMinutes)
	assert.Equal(t, 60, cfg.Upstream.TimeoutSeconds)
	assert.True(t, filepath.IsAbs(cfg.ProfilesRoot))
	assert.True(t, filepath.IsAbs(cfg.KeywordsFile))
}

func TestLoadFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envfile := filepath.Join(dir, ".env")
	err := os.WriteFile(envfile, []byte("GB_PORT=9001\nGB_ENV=development\nGB_LOG_MODE=JSON\n"), 0o644)
	require.NoError(t, err)

	cfg := LoadFrom(envfile)
	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, "development", cfg.Mode)
	assert.Equal(t, "JSON", cfg.LogMode)

	os.Unsetenv("GB_PORT")
	os.Unsetenv("GB_ENV")
	os.Unsetenv("GB_LOG_MODE")
}

func TestOpenLogCreatesDir(t *testing.T) {
	dir := t.TempDir()
	old := Conf
	defer func() { Conf = old; CloseLog() }()

	Conf.Root = dir
	Conf.Log = filepath.Join(dir, "logs", "application.log")
	OpenLog()
	require.NotNil(t, LogOutput)
	CloseLog()

	_, err := os.Stat(filepath.Join(dir, "logs"))
	assert.NoError(t, err)
}
