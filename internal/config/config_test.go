package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30, cfg.Scheduler.Days)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.InitialDelay)
	assert.Equal(t, "is not running", cfg.Zabbix.StoppedMarker)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("DATA_DIR", "")
	t.Setenv("ZABBIX_SERVER", "")
	t.Setenv("SCHEDULER_DAYS", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/downtime
scheduler:
  interval: 2m
  days: 7
zabbix:
  server: https://zabbix.example.com/zabbix
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/downtime", cfg.DataDir)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 7, cfg.Scheduler.Days)
	assert.Equal(t, "https://zabbix.example.com/zabbix", cfg.Zabbix.Server)
	// untouched sections keep defaults
	assert.Equal(t, 10*time.Second, cfg.Scheduler.InitialDelay)
	assert.Equal(t, filepath.Join("/var/lib/downtime", "clients"), cfg.ClientsDir())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: from-file\n"), 0o600))

	t.Setenv("DATA_DIR", "from-env")
	t.Setenv("MONGO_URI", "mongodb://mongo:27017")
	t.Setenv("SCHEDULER_DAYS", "14")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.DataDir)
	assert.Equal(t, "mongodb://mongo:27017", cfg.Mongo.URI)
	assert.Equal(t, 14, cfg.Scheduler.Days)
}

func TestValidateRejectsOutOfRangeDays(t *testing.T) {
	for _, days := range []int{0, 91} {
		cfg := Default()
		cfg.Scheduler.Days = days
		assert.Error(t, cfg.Validate(), "days=%d", days)
	}
}

func TestValidateJournalRetention(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.Days = 30
	cfg.Scheduler.JournalRetention = 7 * 24 * time.Hour
	assert.ErrorContains(t, cfg.Validate(), "journal_retention")

	cfg.Scheduler.JournalRetention = -time.Hour
	assert.Error(t, cfg.Validate())

	cfg.Scheduler.JournalRetention = 30 * 24 * time.Hour
	assert.NoError(t, cfg.Validate())

	// zero keeps resolved entries forever
	cfg.Scheduler.JournalRetention = 0
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
