package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)

	assert.Equal(t, int32(10), cfg.Database.MaxConnections)
	assert.NotZero(t, cfg.Database.ConnectionTimeout)
	assert.NotZero(t, cfg.Database.FreePoolAfterInactivity)

	assert.Equal(t, "fs", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/gateway-blobs", cfg.Storage.FS.BasePath)

	assert.Equal(t, "postgres", cfg.TUS.LockType)
	assert.NotZero(t, cfg.TUS.PartSize)
	assert.NotZero(t, cfg.TUS.MaxConcurrentUploads)

	assert.NotZero(t, cfg.Upload.FileSizeLimit)
	assert.False(t, cfg.Request.IsMultitenant)
}

func TestLoadNoConfigFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "INFO", cfg.Logging.Level)
}

func TestSaveAndLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Signer.Secret = "this-is-a-sufficiently-long-signing-secret"
	cfg.Logging.Level = "DEBUG"

	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", loaded.Logging.Level)
	assert.Equal(t, cfg.Signer.Secret, loaded.Signer.Secret)
}

func TestValidateRejectsMissingRequiredFields(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Signer.Secret = "" // required, min length 32

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Signer.Secret")
}

func TestValidateRequiresForwardedHostPatternWhenMultitenant(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Signer.Secret = "this-is-a-sufficiently-long-signing-secret"
	cfg.Request.IsMultitenant = true
	cfg.Request.XForwardedHostRegExp = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XForwardedHostRegExp")
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Signer.Secret = "this-is-a-sufficiently-long-signing-secret"

	assert.NoError(t, Validate(cfg))
}

func TestValidateRejectsUnknownStorageBackend(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Signer.Secret = "this-is-a-sufficiently-long-signing-secret"
	cfg.Storage.Backend = "nfs"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Storage.Backend")
}
