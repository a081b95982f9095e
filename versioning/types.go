package versioning

import (
	"context"
	"errors"

	"f0oster/permspy/snapshot"
)

// File names written into the data directory.
const (
	CanonicalFile = "permissions_data.json"
	EventLogFile  = "changes_log.json"
	BackupPrefix  = "permissions_backup_"
	BackupExt     = ".json"

	// backupTimeLayout renders YYYYMMDD_HHMMSS
	backupTimeLayout = "20060102_150405"
)

// ErrPersistence marks a failed canonical snapshot or event log write.
var ErrPersistence = errors.New("persistence failure")

// Mirror receives a copy of every backup written, e.g. an object store.
type Mirror interface {
	Put(ctx context.Context, name string, body []byte) error
}

// EventSink receives every ChangeEvent after it was appended to the local log.
type EventSink interface {
	RecordChange(ctx context.Context, ev snapshot.ChangeEvent) error
}
