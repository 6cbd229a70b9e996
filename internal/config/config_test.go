package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	cfg.Port = 5000
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnrecognizedBrowserType(t *testing.T) {
	cfg := Defaults()
	cfg.Port = 5000
	cfg.BrowserType = "safari-like"
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsPortOutOfRange(t *testing.T) {
	cfg := Defaults()
	cfg.Port = 80
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsMinSizeAboveMaxSize(t *testing.T) {
	cfg := Defaults()
	cfg.Port = 5000
	cfg.Pool.MinSize = 5
	cfg.Pool.MaxSize = 2
	err := cfg.Validate()
	require.Error(t, err)
}

func TestApplyEnvOverridesDefaults(t *testing.T) {
	t.Setenv("BROWSER_TYPE", "firefox-like")
	t.Setenv("PORT", "6000")

	cfg := Defaults()
	applyEnv(&cfg)

	assert.Equal(t, "firefox-like", cfg.BrowserType)
	assert.Equal(t, 6000, cfg.Port)
}

func TestMissingRequiredEnvReportsUnsetNames(t *testing.T) {
	t.Setenv("PORT", "")
	missing := MissingRequiredEnv()
	assert.Contains(t, missing, "PORT")
}

func TestWatchPoolIsNoOpWithoutAFilePath(t *testing.T) {
	called := false
	err := WatchPool("", func(PoolConfig) { called = true })
	require.NoError(t, err)
	assert.False(t, called)
}
