package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Queue.MaxRetry)
	assert.Equal(t, time.Second, cfg.Queue.CancelPoll)
	assert.Equal(t, 15*time.Second, cfg.Queue.CancelGrace)
	assert.Equal(t, 60*time.Minute, cfg.Queue.Timeouts["render"])
	assert.Equal(t, time.Minute, cfg.Queue.Timeouts["edl"])
	assert.Equal(t, 0.85, cfg.Confidence.High)
	assert.Equal(t, 0.50, cfg.Confidence.Medium)
	assert.Equal(t, 30, cfg.EDL.FPS)
	assert.Empty(t, cfg.Media.ServiceURL)
	assert.Equal(t, "whisper-large-v3", cfg.Groq.Model)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(dir, "studio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9100"
store:
  driver: sqlite
  dsn: file:studio.db
queue:
  cancel_grace: 5s
  timeouts:
    sync: 2m
confidence:
  high: 0.9
`), 0o600))

	t.Setenv("EDL_FPS", "25")
	t.Setenv("SERVER_PORT", "9200")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9200", cfg.Server.Port, "env overrides file")
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "file:studio.db", cfg.Store.DSN)
	assert.Equal(t, 5*time.Second, cfg.Queue.CancelGrace)
	assert.Equal(t, 2*time.Minute, cfg.Queue.Timeouts["sync"])
	assert.Equal(t, 0.9, cfg.Confidence.High)
	assert.Equal(t, 25, cfg.EDL.FPS)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	chdir(t, t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestReadSecretFromFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	secretPath := filepath.Join(dir, "groq_key")
	require.NoError(t, os.WriteFile(secretPath, []byte("gsk_from_file\n"), 0o600))

	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("GROQ_API_KEY_FILE", secretPath)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gsk_from_file", cfg.Groq.APIKey)
}

func TestReadSecretDirectValueWins(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	secretPath := filepath.Join(dir, "jwt")
	require.NoError(t, os.WriteFile(secretPath, []byte("from-file"), 0o600))

	t.Setenv("JWT_SECRET", "direct")
	t.Setenv("JWT_SECRET_FILE", secretPath)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "direct", cfg.JWT.Secret)
}

func TestDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("STORE_DRIVER=memory\n"), 0o600))

	// godotenv sets the variable for the process; restore it afterwards
	t.Setenv("STORE_DRIVER", "")
	os.Unsetenv("STORE_DRIVER")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:     ServerConfig{Env: "development"},
			Store:      StoreConfig{Driver: "redis"},
			Queue:      QueueConfig{Concurrency: 1, MaxRetry: 3, CancelPoll: time.Second, CancelGrace: time.Second},
			Confidence: ConfidenceConfig{High: 0.85, Medium: 0.5},
			EDL:        EDLConfig{FPS: 30},
			JWT:        JWTConfig{Secret: "change-me-in-production"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"sql without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "store.dsn"},
		{"medium above high", func(c *Config) { c.Confidence.Medium = 0.9 }, "confidence"},
		{"high above one", func(c *Config) { c.Confidence.High = 1.2 }, "confidence"},
		{"no workers", func(c *Config) { c.Queue.Concurrency = 0 }, "queue.concurrency"},
		{"fps", func(c *Config) { c.EDL.FPS = 0 }, "edl.fps"},
		{"default secret in production", func(c *Config) { c.Server.Env = "production" }, "jwt.secret"},
		{"gateway in production", func(c *Config) {
			c.Server.Env = "production"
			c.Gateway.Enabled = true
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
