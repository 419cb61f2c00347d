package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
auth:
  jwt_secret: secret
database:
  path: `+filepath.Join(dir, "db", "courtside.db")+`
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "UTC", cfg.Server.Timezone)
	assert.Equal(t, 3, cfg.Booking.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.ReminderLead())
	assert.Equal(t, time.Minute, cfg.ReminderInterval())
	assert.Equal(t, "0 3 * * *", cfg.Backup.Schedule)
	assert.DirExists(t, filepath.Join(dir, "db"))
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("COURTSIDE_TEST_SECRET", "from-env")
	dir := t.TempDir()
	path := writeConfig(t, `
auth:
  jwt_secret: ${COURTSIDE_TEST_SECRET}
database:
  path: `+filepath.Join(dir, "c.db")+`
server:
  timezone: Europe/Moscow
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "Europe/Moscow", cfg.Location().String())
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server:\n  port: 1\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "jwt_secret")
	})

	t.Run("bad timezone", func(t *testing.T) {
		_, err := Load(writeConfig(t, "auth:\n  jwt_secret: x\nserver:\n  timezone: Mars/Olympus\n"))
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})
}
