package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AuthMode selects how the monitor authenticates to Snowflake.
type AuthMode string

const (
	AuthExternalBrowser AuthMode = "externalbrowser"
	AuthJWT             AuthMode = "jwt"
	AuthOAuth           AuthMode = "oauth"
	AuthPassword        AuthMode = "snowflake"
)

// SnowflakeConfig holds the warehouse connection parameters.
type SnowflakeConfig struct {
	Account       string
	User          string
	Warehouse     string
	Database      string
	Schema        string
	Role          string
	Authenticator AuthMode
	Password      string
	PrivateKey    string
	Token         string
}

// FetchLimits bounds the table-grant crawl, which otherwise grows with
// every table in the account.
type FetchLimits struct {
	MaxDatabases       int
	MaxSchemas         int
	MaxTablesPerSchema int
	MaxTables          int
}

// Configuration is the full process configuration.
type Configuration struct {
	Snowflake     SnowflakeConfig
	Limits        FetchLimits
	CheckInterval time.Duration
	FaultCooldown time.Duration
	DataDir       string
	StatusAddr    string
	LogFile       string
	LogLevel      string

	// Backup retention; BackupKeep == 0 keeps every backup.
	BackupKeep    int
	PruneSchedule string

	// Optional integrations, disabled when empty.
	EventsPostgresDSN string
	KafkaBrokers      []string
	KafkaTopic        string
	NotifyRedisURL    string
	BackupS3          S3Config
}

// S3Config describes the optional backup mirror bucket.
type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
	KeyID    string
	Secret   string
}

// ConfigurationError reports a missing or invalid setting. It is only
// produced at startup and stops the process before the monitor runs.
type ConfigurationError struct {
	Variable string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Variable, e.Reason)
}

// LoadEnvConfig reads an optional dotenv file, then builds the configuration
// from the environment. A missing file is not an error; a malformed one is.
func LoadEnvConfig(configName string) (Configuration, error) {
	if err := LoadEnvFile(configName); err != nil {
		return Configuration{}, err
	}
	return FromEnv(os.Getenv)
}

// LoadEnvFile exports the variables of an optional dotenv file without
// overriding ones already set.
func LoadEnvFile(configName string) error {
	if configName == "" {
		return nil
	}
	if err := godotenv.Load(configName); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", configName, err)
	}
	return nil
}

// DataDir returns DATA_DIR or the current directory.
func DataDir() string {
	if dir := strings.TrimSpace(os.Getenv("DATA_DIR")); dir != "" {
		return dir
	}
	return "."
}

// FromEnv builds and validates a Configuration using getenv for lookups.
func FromEnv(getenv func(string) string) (Configuration, error) {
	env := envReader{getenv: getenv}

	cfg := Configuration{
		Snowflake: SnowflakeConfig{
			Account:       env.str("SNOWFLAKE_ACCOUNT", ""),
			User:          env.str("SNOWFLAKE_USER", ""),
			Warehouse:     env.str("SNOWFLAKE_WAREHOUSE", "COMPUTE_WH"),
			Database:      env.str("SNOWFLAKE_DATABASE", "SNOWFLAKE"),
			Schema:        env.str("SNOWFLAKE_SCHEMA", "INFORMATION_SCHEMA"),
			Role:          env.str("SNOWFLAKE_ROLE", "ACCOUNTADMIN"),
			Authenticator: AuthMode(strings.ToLower(env.str("SNOWFLAKE_AUTHENTICATOR", string(AuthExternalBrowser)))),
			Password:      env.str("SNOWFLAKE_PASSWORD", ""),
			PrivateKey:    env.str("SNOWFLAKE_PRIVATE_KEY", ""),
			Token:         env.str("SNOWFLAKE_TOKEN", ""),
		},
		Limits: FetchLimits{
			MaxDatabases:       env.integer("FETCH_MAX_DATABASES", 5),
			MaxSchemas:         env.integer("FETCH_MAX_SCHEMAS", 3),
			MaxTablesPerSchema: env.integer("FETCH_MAX_TABLES_PER_SCHEMA", 10),
			MaxTables:          env.integer("FETCH_MAX_TABLES", 50),
		},
		CheckInterval:     env.seconds("CHECK_INTERVAL", 300),
		FaultCooldown:     env.seconds("FAULT_COOLDOWN", 60),
		DataDir:           env.str("DATA_DIR", "."),
		StatusAddr:        env.str("STATUS_ADDR", "localhost:8081"),
		LogFile:           env.str("LOG_FILE", "permissions_monitor.log"),
		LogLevel:          env.str("LOG_LEVEL", "info"),
		BackupKeep:        env.integer("BACKUP_KEEP", 0),
		PruneSchedule:     env.str("PRUNE_SCHEDULE", "@daily"),
		EventsPostgresDSN: env.str("EVENTS_POSTGRES_DSN", ""),
		KafkaBrokers:      env.list("KAFKA_BROKERS"),
		KafkaTopic:        env.str("KAFKA_TOPIC", "permspy.changes"),
		NotifyRedisURL:    env.str("NOTIFY_REDIS_URL", ""),
		BackupS3: S3Config{
			Bucket:   env.str("BACKUP_S3_BUCKET", ""),
			Prefix:   env.str("BACKUP_S3_PREFIX", "permissions"),
			Region:   env.str("BACKUP_S3_REGION", "us-east-1"),
			Endpoint: env.str("BACKUP_S3_ENDPOINT", ""),
			KeyID:    env.str("BACKUP_S3_KEY_ID", ""),
			Secret:   env.str("BACKUP_S3_SECRET", ""),
		},
	}

	if env.err != nil {
		return Configuration{}, env.err
	}
	if err := cfg.Validate(); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

// Validate checks required settings and the credential matching the
// selected authenticator.
func (c *Configuration) Validate() error {
	if err := c.Snowflake.Validate(); err != nil {
		return err
	}
	if c.CheckInterval <= 0 {
		return &ConfigurationError{Variable: "CHECK_INTERVAL", Reason: "must be positive"}
	}
	if c.FaultCooldown <= 0 {
		return &ConfigurationError{Variable: "FAULT_COOLDOWN", Reason: "must be positive"}
	}
	if c.BackupKeep < 0 {
		return &ConfigurationError{Variable: "BACKUP_KEEP", Reason: "must not be negative"}
	}
	// The mirror signs with static keys only.
	if c.BackupS3.Bucket != "" {
		if c.BackupS3.KeyID == "" {
			return &ConfigurationError{Variable: "BACKUP_S3_KEY_ID", Reason: "is required when BACKUP_S3_BUCKET is set"}
		}
		if c.BackupS3.Secret == "" {
			return &ConfigurationError{Variable: "BACKUP_S3_SECRET", Reason: "is required when BACKUP_S3_BUCKET is set"}
		}
	}
	return nil
}

// Validate checks the connection parameters. "password" is accepted as an
// alias for the snowflake authenticator.
func (s *SnowflakeConfig) Validate() error {
	if s.User == "" {
		return &ConfigurationError{Variable: "SNOWFLAKE_USER", Reason: "is required"}
	}
	if s.Account == "" {
		return &ConfigurationError{Variable: "SNOWFLAKE_ACCOUNT", Reason: "is required"}
	}

	switch s.Authenticator {
	case AuthExternalBrowser:
	case AuthJWT:
		if s.PrivateKey == "" {
			return &ConfigurationError{Variable: "SNOWFLAKE_PRIVATE_KEY", Reason: "is required for jwt auth"}
		}
	case AuthOAuth:
		if s.Token == "" {
			return &ConfigurationError{Variable: "SNOWFLAKE_TOKEN", Reason: "is required for oauth auth"}
		}
	case AuthPassword, "password", "":
		s.Authenticator = AuthPassword
		if s.Password == "" {
			return &ConfigurationError{Variable: "SNOWFLAKE_PASSWORD", Reason: "is required for password auth"}
		}
	default:
		return &ConfigurationError{
			Variable: "SNOWFLAKE_AUTHENTICATOR",
			Reason:   fmt.Sprintf("must be one of externalbrowser, jwt, oauth, snowflake (got %q)", s.Authenticator),
		}
	}
	return nil
}

// envReader collects the first parse error so FromEnv reads linearly.
type envReader struct {
	getenv func(string) string
	err    error
}

func (r *envReader) str(name, def string) string {
	if v := strings.TrimSpace(r.getenv(name)); v != "" {
		return v
	}
	return def
}

func (r *envReader) integer(name string, def int) int {
	v := strings.TrimSpace(r.getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		if r.err == nil {
			r.err = &ConfigurationError{Variable: name, Reason: fmt.Sprintf("is not an integer: %q", v)}
		}
		return def
	}
	return n
}

func (r *envReader) seconds(name string, def int) time.Duration {
	return time.Duration(r.integer(name, def)) * time.Second
}

func (r *envReader) list(name string) []string {
	var out []string
	for _, part := range strings.Split(r.getenv(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
