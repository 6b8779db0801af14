package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "DATABASE_PATH", "AI_PROVIDER", "ARK_API_KEY", "ARK_MODEL",
		"GEMINI_API_KEY", "AI_FAILURE_RATE", "AI_FAILURE_SEED",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Empty(t, cfg.Store.Path)
	assert.Equal(t, ProviderArk, cfg.AI.Provider)
	assert.False(t, cfg.AI.Enabled())
	assert.Zero(t, cfg.AI.FailureRate)
}

func TestLoadServerAddrForms(t *testing.T) {
	cases := map[string]string{
		"9090":           ":9090",
		":9090":          ":9090",
		"127.0.0.1:9090": "127.0.0.1:9090",
	}
	for in, want := range cases {
		t.Setenv("PORT", in)
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, want, cfg.Server.Addr)
	}

	t.Setenv("PORT", "bad port")
	_, err := Load()
	assert.Error(t, err)
}

func TestAIConfigEnabled(t *testing.T) {
	assert.False(t, AIConfig{Provider: ProviderArk}.Enabled())
	assert.True(t, AIConfig{Provider: ProviderArk, Model: "m", APIKey: "k"}.Enabled())
	assert.True(t, AIConfig{Provider: ProviderArk, Model: "m", AccessKey: "a", SecretKey: "s"}.Enabled())
	assert.False(t, AIConfig{Provider: ProviderGemini}.Enabled())
	assert.True(t, AIConfig{Provider: ProviderGemini, GeminiAPIKey: "k"}.Enabled())
}

func TestFailureRateValidation(t *testing.T) {
	t.Setenv("AI_FAILURE_RATE", "0.25")
	t.Setenv("AI_FAILURE_SEED", "7")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.25, cfg.AI.FailureRate)
	assert.Equal(t, int64(7), cfg.AI.FailureSeed)

	t.Setenv("AI_FAILURE_RATE", "1.5")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("AI_FAILURE_RATE", "not-a-number")
	_, err = Load()
	assert.Error(t, err)
}

func TestOptionalNumericEnvParsing(t *testing.T) {
	t.Setenv("AI_TEMPERATURE", "0.7")
	t.Setenv("AI_MAX_TOKENS", "2048")
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.AI.Temperature)
	assert.Equal(t, 0.7, *cfg.AI.Temperature)
	require.NotNil(t, cfg.AI.MaxTokens)
	assert.Equal(t, 2048, *cfg.AI.MaxTokens)

	t.Setenv("AI_TEMPERATURE", "warm")
	_, err = Load()
	assert.Error(t, err)
}
