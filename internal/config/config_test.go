package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetViper clears global viper state between tests; Load uses the package-global instance.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
}

func TestLoadAppliesDefaultsWithNoFileOrEnv(t *testing.T) {
	resetViper(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "xml", cfg.Output.TransferFormat)
	assert.Equal(t, []string{"date_updated"}, cfg.Policy.IgnoreColumns)
	assert.Equal(t, "", cfg.Cache.RedisURL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "chimport.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  host: dbhost\n  database: sead_test\noutput:\n  transfer_format: csv\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dbhost", cfg.Database.Host)
	assert.Equal(t, "sead_test", cfg.Database.Database)
	assert.Equal(t, "csv", cfg.Output.TransferFormat)
}

func TestLoadRejectsUnknownTransferFormat(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "chimport.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  transfer_format: parquet\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transfer_format")
}

func TestLoadRejectsArchiveWithoutBucket(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "chimport.yaml")
	require.NoError(t, os.WriteFile(path, []byte("archive:\n  enabled: true\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive.bucket")
}

func TestDatabaseConnString(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=d sslmode=disable", d.ConnString())
}

func TestDatabaseMigrationURL(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "pgx5://u:p@h:5432/d?sslmode=disable", d.MigrationURL())
}

func TestPolicyConfigToPolicyConfig(t *testing.T) {
	p := PolicyConfig{
		IgnoreColumns:         []string{"date_updated"},
		IdentityMappingTables: []string{"tbl_sites"},
	}
	converted := p.ToPolicyConfig()
	assert.Equal(t, []string{"date_updated"}, converted.IgnoreColumns)
	assert.Equal(t, []string{"tbl_sites"}, converted.IdentityMappingTables)
}
