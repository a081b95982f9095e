package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"f0oster/permspy/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := config.FromEnv(envMap(map[string]string{
		"SNOWFLAKE_USER":    "monitor",
		"SNOWFLAKE_ACCOUNT": "xy12345",
	}))
	require.NoError(t, err)

	assert.Equal(t, config.AuthExternalBrowser, cfg.Snowflake.Authenticator)
	assert.Equal(t, "COMPUTE_WH", cfg.Snowflake.Warehouse)
	assert.Equal(t, "SNOWFLAKE", cfg.Snowflake.Database)
	assert.Equal(t, "INFORMATION_SCHEMA", cfg.Snowflake.Schema)
	assert.Equal(t, "ACCOUNTADMIN", cfg.Snowflake.Role)
	assert.Equal(t, 300*time.Second, cfg.CheckInterval)
	assert.Equal(t, 60*time.Second, cfg.FaultCooldown)
	assert.Equal(t, "localhost:8081", cfg.StatusAddr)
	assert.Equal(t, config.FetchLimits{MaxDatabases: 5, MaxSchemas: 3, MaxTablesPerSchema: 10, MaxTables: 50}, cfg.Limits)
	assert.Zero(t, cfg.BackupKeep)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestFromEnv_RequiredAndAuthModes(t *testing.T) {
	base := map[string]string{"SNOWFLAKE_USER": "u", "SNOWFLAKE_ACCOUNT": "a"}

	tests := []struct {
		name     string
		extra    map[string]string
		drop     string
		variable string
	}{
		{name: "missing user", drop: "SNOWFLAKE_USER", variable: "SNOWFLAKE_USER"},
		{name: "missing account", drop: "SNOWFLAKE_ACCOUNT", variable: "SNOWFLAKE_ACCOUNT"},
		{name: "jwt without key", extra: map[string]string{"SNOWFLAKE_AUTHENTICATOR": "jwt"}, variable: "SNOWFLAKE_PRIVATE_KEY"},
		{name: "oauth without token", extra: map[string]string{"SNOWFLAKE_AUTHENTICATOR": "oauth"}, variable: "SNOWFLAKE_TOKEN"},
		{name: "password without password", extra: map[string]string{"SNOWFLAKE_AUTHENTICATOR": "snowflake"}, variable: "SNOWFLAKE_PASSWORD"},
		{name: "unknown authenticator", extra: map[string]string{"SNOWFLAKE_AUTHENTICATOR": "kerberos"}, variable: "SNOWFLAKE_AUTHENTICATOR"},
		{name: "bad interval", extra: map[string]string{"CHECK_INTERVAL": "five"}, variable: "CHECK_INTERVAL"},
		{name: "zero interval", extra: map[string]string{"CHECK_INTERVAL": "0"}, variable: "CHECK_INTERVAL"},
		{name: "negative retention", extra: map[string]string{"BACKUP_KEEP": "-1"}, variable: "BACKUP_KEEP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := map[string]string{}
			for k, v := range base {
				if k != tt.drop {
					env[k] = v
				}
			}
			for k, v := range tt.extra {
				env[k] = v
			}

			_, err := config.FromEnv(envMap(env))
			require.Error(t, err)

			var cfgErr *config.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.variable, cfgErr.Variable)
		})
	}
}

func TestFromEnv_CredentialsPerMode(t *testing.T) {
	tests := []struct {
		env  map[string]string
		mode config.AuthMode
	}{
		{map[string]string{"SNOWFLAKE_AUTHENTICATOR": "JWT", "SNOWFLAKE_PRIVATE_KEY": "pem"}, config.AuthJWT},
		{map[string]string{"SNOWFLAKE_AUTHENTICATOR": "oauth", "SNOWFLAKE_TOKEN": "tok"}, config.AuthOAuth},
		{map[string]string{"SNOWFLAKE_AUTHENTICATOR": "password", "SNOWFLAKE_PASSWORD": "pw"}, config.AuthPassword},
	}
	for _, tt := range tests {
		tt.env["SNOWFLAKE_USER"] = "u"
		tt.env["SNOWFLAKE_ACCOUNT"] = "a"
		cfg, err := config.FromEnv(envMap(tt.env))
		require.NoError(t, err)
		assert.Equal(t, tt.mode, cfg.Snowflake.Authenticator)
	}
}

func TestFromEnv_Integrations(t *testing.T) {
	cfg, err := config.FromEnv(envMap(map[string]string{
		"SNOWFLAKE_USER":    "u",
		"SNOWFLAKE_ACCOUNT": "a",
		"CHECK_INTERVAL":    "2",
		"KAFKA_BROKERS":     "k1:9092, k2:9092,",
		"BACKUP_KEEP":       "30",
		"BACKUP_S3_BUCKET":  "audit",
		"BACKUP_S3_KEY_ID":  "key",
		"BACKUP_S3_SECRET":  "secret",
	}))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.CheckInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 30, cfg.BackupKeep)
	assert.Equal(t, "audit", cfg.BackupS3.Bucket)
	assert.Equal(t, "permissions", cfg.BackupS3.Prefix)
}

func TestFromEnv_S3BucketRequiresKeys(t *testing.T) {
	base := map[string]string{
		"SNOWFLAKE_USER":     "u",
		"SNOWFLAKE_ACCOUNT":  "a",
		"SNOWFLAKE_PASSWORD": "p",
		"BACKUP_S3_BUCKET":   "audit",
	}

	_, err := config.FromEnv(envMap(base))
	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "BACKUP_S3_KEY_ID", cfgErr.Variable)

	base["BACKUP_S3_KEY_ID"] = "key"
	_, err = config.FromEnv(envMap(base))
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "BACKUP_S3_SECRET", cfgErr.Variable)

	base["BACKUP_S3_SECRET"] = "secret"
	_, err = config.FromEnv(envMap(base))
	assert.NoError(t, err)
}

func TestLoadEnvConfig_ReadsDotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.env")
	require.NoError(t, os.WriteFile(path, []byte("SNOWFLAKE_USER=fromfile\nSNOWFLAKE_ACCOUNT=acct\nCHECK_INTERVAL=7\n"), 0o600))

	for _, k := range []string{"SNOWFLAKE_USER", "SNOWFLAKE_ACCOUNT", "CHECK_INTERVAL", "SNOWFLAKE_AUTHENTICATOR"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := config.LoadEnvConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "fromfile", cfg.Snowflake.User)
	assert.Equal(t, 7*time.Second, cfg.CheckInterval)
}

func TestLoadEnvConfig_MissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("SNOWFLAKE_USER", "envuser")
	t.Setenv("SNOWFLAKE_ACCOUNT", "acct")
	t.Setenv("SNOWFLAKE_AUTHENTICATOR", "externalbrowser")

	cfg, err := config.LoadEnvConfig(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, "envuser", cfg.Snowflake.User)
}

func TestDataDir(t *testing.T) {
	t.Setenv("DATA_DIR", "")
	assert.Equal(t, ".", config.DataDir())

	t.Setenv("DATA_DIR", "/var/lib/permspy")
	assert.Equal(t, "/var/lib/permspy", config.DataDir())
}
