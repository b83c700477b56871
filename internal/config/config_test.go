package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into a temp dir so ./subbatch.toml and ./.env lookups are
// isolated. Tests using it must not run in parallel.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("SUBBATCH_CONFIG", "")
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("XDG_CACHE_HOME", "/tmp/xdg")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.LLM.APIURL)
	assert.Equal(t, 10, cfg.Translate.BatchSize)
	assert.Equal(t, 6000, cfg.Translate.MaxBatchChars)
	assert.False(t, cfg.Translate.ParallelFiles)
	assert.False(t, cfg.Translate.ParallelLanguages)
	assert.Equal(t, "EN", cfg.Translate.SourceSuffix)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, filepath.Join("/tmp/xdg", "subbatch", "cache.db"), cfg.Cache.Path)
	require.NoError(t, cfg.RequireLLM())
}

func TestNewFromEnv_Overrides(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("TARGET_LANGUAGES", "vietnamese, thai,,ms")
	t.Setenv("PARALLEL_FILES", "true")
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("MAX_BATCH_CHARS", "not-a-number")
	t.Setenv("LLM_TEMPERATURE", "0.9")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, []string{"vietnamese", "thai", "ms"}, cfg.Translate.Languages)
	assert.True(t, cfg.Translate.ParallelFiles)
	assert.Equal(t, 25, cfg.Translate.BatchSize)
	assert.Equal(t, 6000, cfg.Translate.MaxBatchChars)
	assert.InDelta(t, 0.9, cfg.LLM.Temperature, 1e-9)
}

func TestRequireLLM_MissingKey(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.EqualError(t, cfg.RequireLLM(), "LLM_API_KEY is required")
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"batch size", func(c *Config) { c.Translate.BatchSize = 0 }},
		{"batch chars", func(c *Config) { c.Translate.MaxBatchChars = -1 }},
		{"parallel cap", func(c *Config) { c.Translate.MaxParallelFiles = 0 }},
		{"suffix", func(c *Config) { c.Translate.SourceSuffix = " " }},
		{"cache path", func(c *Config) { c.Cache.Path = "" }},
		{"cron", func(c *Config) { c.Schedule.CronExpr = "61 * * * *" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_LayersFileDotenvEnvAndOptions(t *testing.T) {
	dir := chdir(t)
	t.Setenv("SUBBATCH_CONFIG", "")
	t.Setenv("LLM_MODEL", "")
	// .env only fills variables that are unset; t.Setenv restores them after
	unsetenv(t, "LLM_API_KEY")
	unsetenv(t, "LOG_LEVEL")

	toml := `
[llm]
model = "file-model"
api_key = "file-key"

[translate]
languages = ["vietnamese", "thai"]
batch_size = 5
parallel_languages = true

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte(toml), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LLM_API_KEY=dotenv-key\nLOG_LEVEL=warn\n"), 0o644))
	t.Setenv("BATCH_SIZE", "7")

	cfg, err := Load("", func(c *Config) { c.LLM.Model = "flag-model" })
	require.NoError(t, err)

	assert.Equal(t, DefaultFile, cfg.Path)
	assert.Equal(t, "flag-model", cfg.LLM.Model)
	assert.Equal(t, "dotenv-key", cfg.LLM.APIKey)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 7, cfg.Translate.BatchSize)
	assert.Equal(t, []string{"vietnamese", "thai"}, cfg.Translate.Languages)
	assert.True(t, cfg.Translate.ParallelLanguages)
	assert.Equal(t, 6000, cfg.Translate.MaxBatchChars)
}

func TestLoad_ExplicitPath(t *testing.T) {
	chdir(t)
	t.Setenv("SUBBATCH_CONFIG", "")

	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("[http]\naddr = \":9999\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, path, cfg.Path)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "not found")
}

func TestLoad_EnvPathAndBadTOML(t *testing.T) {
	chdir(t)

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[llm\nmodel = 1"), 0o644))
	t.Setenv("SUBBATCH_CONFIG", path)

	_, err := Load("")
	assert.ErrorContains(t, err, "parse config")
}

func TestLoad_NoFile(t *testing.T) {
	chdir(t)
	t.Setenv("SUBBATCH_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Path)
}

func TestRedacted_MasksKey(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-secret"

	out := cfg.Redacted()
	assert.NotContains(t, out, "sk-secret")
	assert.Contains(t, out, "***")
	assert.Equal(t, "sk-secret", cfg.LLM.APIKey)
}
