package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "formpilot", cfg.Logger.ServiceName)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 90*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Browser.NetworkQuiet)
	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Model)
	assert.Equal(t, 8000, cfg.Analysis.ExcerptMaxChars)
	assert.Equal(t, "example.com", cfg.Fill.EmailDomain)
	assert.True(t, cfg.Fill.Submit)
	assert.Equal(t, 128, cfg.Cache.MaxEntries)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FORMPILOT_LLM_MODEL", "gemini-2.0-pro")
	t.Setenv("FORMPILOT_FILL_SUBMIT", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.0-pro", cfg.LLM.Model)
	assert.False(t, cfg.Fill.Submit)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load("/definitely/not/here.yaml")
	assert.Error(t, err)
}
