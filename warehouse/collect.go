package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"f0oster/permspy/config"
	"f0oster/permspy/snapshot"
)

// queryFunc runs one statement and returns its rows.
type queryFunc func(ctx context.Context, query string) ([]snapshot.Record, error)

// collector walks the account with SHOW statements. Failing to list roles,
// users or databases fails the whole fetch; failures for an individual role,
// user, schema or table degrade to an empty list.
type collector struct {
	query  queryFunc
	limits config.FetchLimits
	logger *slog.Logger
}

func (c *collector) collect(ctx context.Context, now time.Time) (*snapshot.Snapshot, error) {
	snap := snapshot.New(now)

	var err error
	c.logger.Debug("fetching roles")
	if snap.Roles, err = c.query(ctx, "SHOW ROLES"); err != nil {
		return nil, fmt.Errorf("%w: show roles: %w", ErrSourceUnavailable, err)
	}
	c.logger.Debug("fetching users")
	if snap.Users, err = c.query(ctx, "SHOW USERS"); err != nil {
		return nil, fmt.Errorf("%w: show users: %w", ErrSourceUnavailable, err)
	}
	c.logger.Debug("fetching databases")
	if snap.Databases, err = c.query(ctx, "SHOW DATABASES"); err != nil {
		return nil, fmt.Errorf("%w: show databases: %w", ErrSourceUnavailable, err)
	}

	c.logger.Debug("fetching role grants", "roles", len(snap.Roles))
	for _, role := range snapshot.Names(snap.Roles) {
		snap.RoleGrants[role] = c.queryOrEmpty(ctx, "SHOW GRANTS TO ROLE "+quoteIdent(role), "role", role)
		snap.RoleMemberships[role] = c.queryOrEmpty(ctx, "SHOW GRANTS OF ROLE "+quoteIdent(role), "role", role)
	}

	c.logger.Debug("fetching user grants", "users", len(snap.Users))
	for _, user := range snapshot.Names(snap.Users) {
		snap.UserGrants[user] = c.queryOrEmpty(ctx, "SHOW GRANTS TO USER "+quoteIdent(user), "user", user)
	}

	c.logger.Debug("fetching table grants")
	c.collectTableGrants(ctx, snap)

	return snap, nil
}

// collectTableGrants samples table grants within the configured limits.
func (c *collector) collectTableGrants(ctx context.Context, snap *snapshot.Snapshot) {
	tableCount := 0
	for _, db := range head(snapshot.Names(snap.Databases), c.limits.MaxDatabases) {
		schemas, err := c.query(ctx, "SHOW SCHEMAS IN DATABASE "+quoteIdent(db))
		if err != nil {
			c.logger.Warn("failed to fetch schemas", "database", db, "error", err)
			continue
		}
		for _, schema := range head(snapshot.Names(schemas), c.limits.MaxSchemas) {
			tables, err := c.query(ctx, "SHOW TABLES IN SCHEMA "+quoteIdent(db, schema))
			if err != nil {
				c.logger.Warn("failed to fetch tables", "schema", db+"."+schema, "error", err)
				continue
			}
			for _, table := range head(snapshot.Names(tables), c.limits.MaxTablesPerSchema) {
				key := db + "." + schema + "." + table
				grants, err := c.query(ctx, "SHOW GRANTS ON TABLE "+quoteIdent(db, schema, table))
				if err != nil {
					c.logger.Warn("failed to fetch table grants", "table", key, "error", err)
					continue
				}
				snap.TableGrants[key] = grants
				tableCount++
				if c.limits.MaxTables > 0 && tableCount >= c.limits.MaxTables {
					return
				}
			}
		}
	}
}

func (c *collector) queryOrEmpty(ctx context.Context, query, kind, name string) []snapshot.Record {
	records, err := c.query(ctx, query)
	if err != nil {
		c.logger.Warn("failed to fetch grants", kind, name, "error", err)
		return []snapshot.Record{}
	}
	return records
}

// quoteIdent renders a possibly dotted identifier with every part
// double-quoted, so names with mixed case or special characters resolve
// exactly as SHOW reported them.
func quoteIdent(parts ...string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ".")
}

// head returns at most n items; n <= 0 means no limit.
func head(items []string, n int) []string {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
