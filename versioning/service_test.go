package versioning_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"f0oster/permspy/snapshot"
	"f0oster/permspy/versioning"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMirror struct {
	names []string
	err   error
}

func (m *fakeMirror) Put(_ context.Context, name string, _ []byte) error {
	m.names = append(m.names, name)
	return m.err
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func testSnapshot() *snapshot.Snapshot {
	s := snapshot.New(time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC))
	s.Roles = []snapshot.Record{{"name": "R1"}}
	s.RoleGrants["R1"] = []snapshot.Record{{"privilege": "USAGE"}}
	return s
}

func newStore(t *testing.T, opts ...versioning.Option) *versioning.Store {
	t.Helper()
	return versioning.NewStore(t.TempDir(), slog.New(slog.DiscardHandler), opts...)
}

func TestSave_WritesCanonicalAndBackup(t *testing.T) {
	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.Local)
	store := newStore(t, versioning.WithClock(fixedClock(ts)))

	canonical, backup, err := store.Save(context.Background(), testSnapshot())
	require.NoError(t, err)

	assert.Equal(t, store.CanonicalPath(), canonical)
	assert.Equal(t, filepath.Join(store.Dir(), "permissions_backup_20260203_040506.json"), backup)

	canonicalBytes, err := os.ReadFile(canonical)
	require.NoError(t, err)
	backupBytes, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, canonicalBytes, backupBytes)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(canonicalBytes, &decoded))
	assert.Contains(t, decoded, "role_grants")
	assert.Contains(t, decoded, "table_grants")
	assert.Contains(t, string(canonicalBytes), "\n  \"timestamp\"")

	_, ok := store.LastModified()
	assert.True(t, ok)
}

func TestSave_SameSecondNeverOverwritesBackup(t *testing.T) {
	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.Local)
	store := newStore(t, versioning.WithClock(fixedClock(ts)))

	_, first, err := store.Save(context.Background(), testSnapshot())
	require.NoError(t, err)
	_, second, err := store.Save(context.Background(), testSnapshot())
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, "permissions_backup_20260203_040506_1.json", filepath.Base(second))

	backups, err := store.Backups()
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, backups)
}

func TestSave_CanonicalFailure(t *testing.T) {
	store := versioning.NewStore(filepath.Join(t.TempDir(), "missing"), slog.New(slog.DiscardHandler))

	_, _, err := store.Save(context.Background(), testSnapshot())
	require.Error(t, err)
	assert.True(t, errors.Is(err, versioning.ErrPersistence))

	_, ok := store.LastModified()
	assert.False(t, ok)
}

func TestSave_MirrorFailureIsNotFatal(t *testing.T) {
	mirror := &fakeMirror{err: errors.New("bucket unreachable")}
	store := newStore(t, versioning.WithMirror(mirror))

	_, backup, err := store.Save(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.NotEmpty(t, backup)
	assert.Equal(t, []string{filepath.Base(backup)}, mirror.names)
}

func TestAppendEvent_OneLinePerEvent(t *testing.T) {
	store := newStore(t)
	s := testSnapshot()

	require.NoError(t, store.AppendEvent(snapshot.NewChangeEvent(s, []string{"roles"}, time.Now())))
	s.Roles = append(s.Roles, snapshot.Record{"name": "R2"})
	require.NoError(t, store.AppendEvent(snapshot.NewChangeEvent(s, []string{"roles"}, time.Now())))

	f, err := os.Open(store.EventLogPath())
	require.NoError(t, err)
	defer f.Close()

	var events []snapshot.ChangeEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev snapshot.ChangeEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Summary.TotalRoles)
	assert.Equal(t, 2, events[1].Summary.TotalRoles)
	assert.True(t, events[1].ChangesDetected)
}

func TestAppendEvent_Failure(t *testing.T) {
	store := versioning.NewStore(filepath.Join(t.TempDir(), "missing"), slog.New(slog.DiscardHandler))
	err := store.AppendEvent(snapshot.ChangeEvent{})
	assert.True(t, errors.Is(err, versioning.ErrPersistence))
}

func TestPrune_KeepsNewest(t *testing.T) {
	base := time.Date(2026, 2, 3, 4, 5, 0, 0, time.Local)
	clock := base
	store := newStore(t, versioning.WithClock(func() time.Time { return clock }))

	var written []string
	for i := 0; i < 4; i++ {
		clock = base.Add(time.Duration(i) * time.Minute)
		_, backup, err := store.Save(context.Background(), testSnapshot())
		require.NoError(t, err)
		written = append(written, backup)
	}

	removed, err := store.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, written[:2], removed)

	remaining, err := store.Backups()
	require.NoError(t, err)
	assert.Equal(t, written[2:], remaining)

	// The canonical snapshot is never a prune candidate.
	_, err = os.Stat(store.CanonicalPath())
	assert.NoError(t, err)
}

func TestPrune_Disabled(t *testing.T) {
	store := newStore(t)
	_, _, err := store.Save(context.Background(), testSnapshot())
	require.NoError(t, err)

	removed, err := store.Prune(0)
	require.NoError(t, err)
	assert.Empty(t, removed)

	backups, err := store.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestWriteCanonical_NoBackup(t *testing.T) {
	store := newStore(t)

	path, err := store.WriteCanonical(testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, store.CanonicalPath(), path)

	backups, err := store.Backups()
	require.NoError(t, err)
	assert.Empty(t, backups)
}
