// Package warehouse produces access-control snapshots from a Snowflake
// account.
package warehouse

import (
	"context"
	"errors"

	"f0oster/permspy/snapshot"
)

// ErrSourceUnavailable marks connect and fetch failures. The monitor treats
// them as "no change" and retries on its normal interval.
var ErrSourceUnavailable = errors.New("snapshot source unavailable")

// Source produces a complete snapshot on demand.
type Source interface {
	Fetch(ctx context.Context) (*snapshot.Snapshot, error)
	Close() error
}
