package warehouse

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"f0oster/permspy/config"
	"f0oster/permspy/snapshot"

	sf "github.com/snowflakedb/gosnowflake"
)

// SnowflakeSource fetches snapshots over a database/sql connection. The
// connection is opened on the first Fetch, not at construction, so bad
// credentials surface inside the monitor's error handling.
type SnowflakeSource struct {
	cfg    config.SnowflakeConfig
	limits config.FetchLimits
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
	db *sql.DB
}

func NewSnowflakeSource(cfg config.SnowflakeConfig, limits config.FetchLimits, logger *slog.Logger) *SnowflakeSource {
	return &SnowflakeSource{
		cfg:    cfg,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

// Fetch connects if needed and collects a full snapshot.
func (s *SnowflakeSource) Fetch(ctx context.Context) (*snapshot.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	c := &collector{
		query:  s.query,
		limits: s.limits,
		logger: s.logger,
	}
	return c.collect(ctx, s.now())
}

// Close releases the connection, if one was opened.
func (s *SnowflakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SnowflakeSource) connect(ctx context.Context) error {
	if s.db != nil {
		return nil
	}

	dsn, err := buildDSN(s.cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return fmt.Errorf("%w: open: %w", ErrSourceUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("%w: connect to %s: %w", ErrSourceUnavailable, s.cfg.Account, err)
	}

	s.logger.Info("connected to Snowflake", "account", s.cfg.Account, "user", s.cfg.User, "role", s.cfg.Role)
	s.db = db
	return nil
}

func (s *SnowflakeSource) query(ctx context.Context, query string) ([]snapshot.Record, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := []snapshot.Record{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(snapshot.Record, len(cols))
		for i, col := range cols {
			rec[col] = normalizeValue(values[i])
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// normalizeValue converts driver values to the JSON-friendly forms a Record
// holds.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case sql.NullString:
		if !val.Valid {
			return nil
		}
		return val.String
	default:
		return val
	}
}

func buildDSN(c config.SnowflakeConfig) (string, error) {
	sfCfg := &sf.Config{
		Account:   c.Account,
		User:      c.User,
		Warehouse: c.Warehouse,
		Database:  c.Database,
		Schema:    c.Schema,
		Role:      c.Role,
	}

	switch c.Authenticator {
	case config.AuthExternalBrowser:
		sfCfg.Authenticator = sf.AuthTypeExternalBrowser
	case config.AuthJWT:
		key, err := parsePrivateKey(c.PrivateKey)
		if err != nil {
			return "", fmt.Errorf("parse private key: %w", err)
		}
		sfCfg.Authenticator = sf.AuthTypeJwt
		sfCfg.PrivateKey = key
	case config.AuthOAuth:
		sfCfg.Authenticator = sf.AuthTypeOAuth
		sfCfg.Token = c.Token
	default:
		sfCfg.Authenticator = sf.AuthTypeSnowflake
		sfCfg.Password = c.Password
	}

	dsn, err := sf.DSN(sfCfg)
	if err != nil {
		return "", fmt.Errorf("build dsn: %w", err)
	}
	return dsn, nil
}

// parsePrivateKey accepts a PEM block or bare base64 DER, in PKCS#8 or
// PKCS#1 form.
func parsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	var der []byte
	if block, _ := pem.Decode([]byte(raw)); block != nil {
		der = block.Bytes
	} else {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, errors.New("private key is neither PEM nor base64 DER")
		}
		der = decoded
	}

	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, want RSA", key)
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(der)
}
