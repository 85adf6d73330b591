package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	t.Parallel()

	cfg := NewDefault()

	assert.Equal(t, "INFO", cfg.Global.LogLevel)
	assert.Equal(t, 9090, cfg.Global.MetricsPort)
	assert.Equal(t, 9091, cfg.Global.HealthPort)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrentTasks)
	assert.Equal(t, 100, cfg.Engine.MaxRenameAttempts)
	assert.Equal(t, 5*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Network.Retry.BaseDelay)
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg := NewDefault()
	cfg.Engine.MaxConcurrentTasks = 0
	assert.Error(t, cfg.Validate())

	cfg = NewDefault()
	cfg.Global.LogLevel = "VERBOSE"
	assert.Error(t, cfg.Validate())

	cfg = NewDefault()
	cfg.Global.MetricsPort = 9091
	cfg.Global.HealthPort = 9091
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateEnabledMounts(t *testing.T) {
	t.Parallel()

	cfg := NewDefault()
	cfg.Mounts = []MountRecord{
		{ID: "a", MountPath: "/cloud", Enabled: true},
		{ID: "b", MountPath: "/cloud/", Enabled: true},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate enabled mount_path")
}

func TestValidateIgnoresDisabledDuplicates(t *testing.T) {
	t.Parallel()

	cfg := NewDefault()
	cfg.Mounts = []MountRecord{
		{ID: "a", MountPath: "/cloud", Enabled: true},
		{ID: "b", MountPath: "/cloud", Enabled: false},
	}
	assert.NoError(t, cfg.Validate())
}

func TestSaveAndLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := NewDefault()
	cfg.Mounts = []MountRecord{
		{
			ID:         "m1",
			Name:       "primary s3",
			DriverKind: "s3",
			MountPath:  "/cloud",
			Config:     map[string]any{"bucket": "proj-bucket", "extra_unknown_field": "kept"},
			Enabled:    true,
		},
	}

	require.NoError(t, cfg.SaveToFile(path))

	loaded := &Configuration{}
	require.NoError(t, loaded.LoadFromFile(path))

	require.Len(t, loaded.Mounts, 1)
	assert.Equal(t, "s3", loaded.Mounts[0].DriverKind)
	assert.Equal(t, "proj-bucket", loaded.Mounts[0].Config["bucket"])
	assert.Equal(t, "kept", loaded.Mounts[0].Config["extra_unknown_field"])
}

func TestLoadFromEnvOverridesFileValues(t *testing.T) {
	t.Setenv("UNIDRIVE_LOG_LEVEL", "DEBUG")
	t.Setenv("UNIDRIVE_MAX_CONCURRENT_TASKS", "16")
	t.Setenv("UNIDRIVE_INSTANT_UPLOAD", "false")

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "DEBUG", cfg.Global.LogLevel)
	assert.Equal(t, 16, cfg.Engine.MaxConcurrentTasks)
	assert.False(t, cfg.Features.InstantUpload)
}

func TestNormalizeMountPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/", normalizeMountPath("/"))
	assert.Equal(t, "/", normalizeMountPath(""))
	assert.Equal(t, "/cloud", normalizeMountPath("/cloud/"))
	assert.Equal(t, "/cloud", normalizeMountPath("/cloud"))
}

func TestLoadFromFileMissingReturnsError(t *testing.T) {
	t.Parallel()

	cfg := NewDefault()
	err := cfg.LoadFromFile(filepath.Join(os.TempDir(), "does-not-exist-unidrive.yaml"))
	assert.Error(t, err)
}
