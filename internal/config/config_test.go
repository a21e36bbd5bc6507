package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/framecast")
	t.Setenv("MAX_CONCURRENT_JOBS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.APIPort)
	assert.Equal(t, 2, cfg.MaxConcurrentJobs)
	assert.True(t, cfg.PushProgress)
	assert.Equal(t, "api", cfg.Log.Service)
}

func TestLoadClient_Overrides(t *testing.T) {
	t.Setenv("RENDER_SERVER_URL", "http://render.local:8080/")
	t.Setenv("UPLOAD_BATCH_SIZE", "48")
	t.Setenv("SUPABASE_URL", "https://x.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "key")

	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "http://render.local:8080", cfg.RenderServerURL)
	assert.Equal(t, 48, cfg.BatchSize)
	assert.True(t, cfg.PersistenceEnabled())
}

func TestLoadClient_InvalidBatchSize(t *testing.T) {
	t.Setenv("UPLOAD_BATCH_SIZE", "0")
	_, err := LoadClient()
	assert.Error(t, err)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("FC_BOOL", "notabool")
	assert.True(t, getEnvBool("FC_BOOL", true))
	t.Setenv("FC_INT", "12")
	assert.Equal(t, 12, getEnvInt("FC_INT", 3))
}
