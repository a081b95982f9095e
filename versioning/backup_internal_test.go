package versioning

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"f0oster/permspy/snapshot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave_FailedBackupWriteLeavesNoFile(t *testing.T) {
	store := NewStore(t.TempDir(), slog.New(slog.DiscardHandler))
	store.write = func(w io.Writer, data []byte) error {
		_, _ = w.Write(data[:len(data)/2])
		return errors.New("disk full")
	}

	snap := snapshot.New(time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC))
	canonical, backup, err := store.Save(context.Background(), snap)
	require.NoError(t, err)
	assert.FileExists(t, canonical)
	assert.Empty(t, backup)

	backups, err := store.Backups()
	require.NoError(t, err)
	assert.Empty(t, backups)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), BackupPrefix)
	}
}
