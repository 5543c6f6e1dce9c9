package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "library.db", cfg.Database.Path)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, "@every 1h", cfg.Workers.OverdueSchedule)
	assert.Equal(t, "@every 10m", cfg.Workers.MaintenanceSchedule)

	s, err := cfg.Library.Settings()
	require.NoError(t, err)
	assert.Equal(t, 7, s.BorrowingDays)
	assert.Equal(t, "1", s.LateFeePerDay.String())
}

func TestLoadLayers(t *testing.T) {
	path := writeFile(t, "library.yaml", `
server:
  addr: ":9000"
  readTimeout: 30s
database:
  path: /var/lib/library.db
library:
  borrowingDays: 14
  lateFeePerDay: "0.50"
`)
	envFile := writeFile(t, ".env", "JWT_ACCESS_SECRET=from-dotenv\nLIBRARY_MAX_COPIES=40\n")
	t.Setenv("LIBRARY_ADDR", ":7000")
	t.Setenv("JWT_REFRESH_SECRET", "refresh-from-env")

	cfg, err := Load(path, envFile)
	require.NoError(t, err)
	t.Cleanup(func() {
		os.Unsetenv("JWT_ACCESS_SECRET")
		os.Unsetenv("LIBRARY_MAX_COPIES")
	})

	assert.Equal(t, ":7000", cfg.Server.Addr, "environment overrides the file")
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "unset keys keep defaults")
	assert.Equal(t, "/var/lib/library.db", cfg.Database.Path)
	assert.Equal(t, "from-dotenv", cfg.Auth.AccessSecret)
	assert.NoError(t, cfg.RequireSecrets())

	s, err := cfg.Library.Settings()
	require.NoError(t, err)
	assert.Equal(t, 14, s.BorrowingDays)
	assert.Equal(t, 40, s.MaxCopies)
	assert.Equal(t, "0.5", s.LateFeePerDay.String())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "server: [unclosed"), "")
	assert.Error(t, err)

	_, err = Load(writeFile(t, "ages.yaml", "library:\n  ageMin: 60\n  ageMax: 30\n"), "")
	assert.Error(t, err)

	_, err = Load(writeFile(t, "fee.yaml", "library:\n  lateFeePerDay: lots\n"), "")
	assert.Error(t, err)

	_, err = Load("", filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err, "a missing .env file is ignored")
}

func TestRequireSecrets(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.RequireSecrets())

	cfg.Auth.AccessSecret, cfg.Auth.RefreshSecret = "same", "same"
	assert.Error(t, cfg.RequireSecrets())

	cfg.Auth.RefreshSecret = "different"
	assert.NoError(t, cfg.RequireSecrets())
}
