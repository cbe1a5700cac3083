package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GIN_MODE", "debug")
	t.Setenv("MAX_IMAGES", "")
	t.Setenv("WORK_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 200, cfg.MaxImages)
	assert.Equal(t, int64(25*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, 10, cfg.JobExpireMinutes)
	assert.Equal(t, "eng", cfg.OCRLanguage)
	assert.Empty(t, cfg.GhostscriptPath)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WORK_DIR", t.TempDir())
	t.Setenv("MAX_IMAGES", "12")
	t.Setenv("ASYNC_THRESHOLD_PAGES", "not-a-number")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.MaxImages)
	assert.Equal(t, 40, cfg.AsyncThresholdPages, "invalid integers fall back to the default")
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestValidateReleaseRequiresCredentials(t *testing.T) {
	cfg := &Config{
		GinMode:     "release",
		MaxFileSize: 1,
		MaxImages:   1,
		WorkDir:     t.TempDir(),
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_USERNAME")

	cfg.AppUsername = "admin"
	cfg.AppPasswordHash = "hash"
	cfg.SessionSecret = "secret"
	cfg.QueueRedisURL = "redis://localhost:6379/0"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	cfg := &Config{GinMode: "debug", MaxFileSize: 0, MaxImages: 1, WorkDir: "/tmp"}
	assert.Error(t, cfg.Validate())
}
