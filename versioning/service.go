package versioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"f0oster/permspy/fileutil"
	"f0oster/permspy/snapshot"
)

// Store persists snapshots and change events under a single data directory.
type Store struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
	mirror Mirror
	write  func(w io.Writer, data []byte) error
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to name backups.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMirror uploads every backup to m after it was written locally.
func WithMirror(m Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

func NewStore(dir string, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		dir:    dir,
		logger: logger,
		now:    time.Now,
		write:  writeAll,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// CanonicalPath returns the location of the latest snapshot.
func (s *Store) CanonicalPath() string {
	return filepath.Join(s.dir, CanonicalFile)
}

// EventLogPath returns the location of the append-only change log.
func (s *Store) EventLogPath() string {
	return filepath.Join(s.dir, EventLogFile)
}

// LastModified reports when the canonical snapshot was last replaced.
// The boolean is false when no snapshot has been written yet.
func (s *Store) LastModified() (time.Time, bool) {
	info, err := os.Stat(s.CanonicalPath())
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// Save writes the snapshot to the canonical location and to a new timestamped
// backup. A canonical failure is returned wrapped in ErrPersistence and no
// backup is attempted. A backup failure is only logged: the canonical copy is
// authoritative and the missing backup is a monitoring gap, so backupPath is
// empty in that case.
func (s *Store) Save(ctx context.Context, snap *snapshot.Snapshot) (canonicalPath, backupPath string, err error) {
	data, err := marshalSnapshot(snap)
	if err != nil {
		return "", "", err
	}

	canonicalPath, err = s.writeCanonical(data)
	if err != nil {
		return "", "", err
	}

	backupPath, err = s.writeBackup(data)
	if err != nil {
		s.logger.Error("backup write failed, canonical snapshot kept",
			"canonical", canonicalPath, "error", err)
		return canonicalPath, "", nil
	}

	if s.mirror != nil {
		name := filepath.Base(backupPath)
		if err := s.mirror.Put(ctx, name, data); err != nil {
			s.logger.Warn("backup mirror upload failed", "backup", name, "error", err)
		}
	}

	s.logger.Info("permissions data saved", "canonical", canonicalPath, "backup", backupPath)
	return canonicalPath, backupPath, nil
}

// WriteCanonical replaces the canonical snapshot without taking a backup.
func (s *Store) WriteCanonical(snap *snapshot.Snapshot) (string, error) {
	data, err := marshalSnapshot(snap)
	if err != nil {
		return "", err
	}
	return s.writeCanonical(data)
}

func marshalSnapshot(snap *snapshot.Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: marshal snapshot: %w", ErrPersistence, err)
	}
	return data, nil
}

func (s *Store) writeCanonical(data []byte) (string, error) {
	path := s.CanonicalPath()
	if err := fileutil.WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("%w: write %s: %w", ErrPersistence, path, err)
	}
	return path, nil
}

// AppendEvent writes one JSON line to the change log. The file is opened in
// append mode and closed again for every record.
func (s *Store) AppendEvent(ev snapshot.ChangeEvent) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: marshal change event: %w", ErrPersistence, err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(s.EventLogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open change log: %w", ErrPersistence, err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("%w: append change log: %w", ErrPersistence, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close change log: %w", ErrPersistence, err)
	}
	return nil
}

// Backups lists backup file paths, oldest first.
func (s *Store) Backups() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	var backups []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, BackupPrefix) || !strings.HasSuffix(name, BackupExt) {
			continue
		}
		backups = append(backups, name)
	}
	// The timestamp layout sorts lexically; same-second suffixes sort after
	// their unsuffixed sibling.
	sort.Slice(backups, func(i, j int) bool {
		return backupSortKey(backups[i]) < backupSortKey(backups[j])
	})
	for i, name := range backups {
		backups[i] = filepath.Join(s.dir, name)
	}
	return backups, nil
}

// Prune removes the oldest backups so that at most keep remain. keep <= 0
// disables retention.
func (s *Store) Prune(keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	backups, err := s.Backups()
	if err != nil {
		return nil, err
	}
	if len(backups) <= keep {
		return nil, nil
	}

	var removed []string
	var errs []error
	for _, path := range backups[:len(backups)-keep] {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	if len(removed) > 0 {
		s.logger.Info("pruned backups", "removed", len(removed), "kept", keep)
	}
	return removed, errors.Join(errs...)
}

// writeBackup creates a never-before-used backup file. Two saves within the
// same second get a numeric suffix instead of overwriting each other.
func (s *Store) writeBackup(data []byte) (string, error) {
	stamp := s.now().Format(backupTimeLayout)
	for attempt := 0; attempt < 100; attempt++ {
		name := BackupPrefix + stamp + BackupExt
		if attempt > 0 {
			name = fmt.Sprintf("%s%s_%d%s", BackupPrefix, stamp, attempt, BackupExt)
		}
		path := filepath.Join(s.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		// A partial file would be listed and pruned as a real backup.
		if err := s.write(f, data); err != nil {
			f.Close()
			os.Remove(path)
			return "", err
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", err
		}
		return path, nil
	}
	return "", fmt.Errorf("no free backup name for %s", stamp)
}

func writeAll(w io.Writer, data []byte) error {
	_, err := w.Write(data)
	return err
}

// backupSortKey pads the optional collision suffix so that _10 sorts after _9.
func backupSortKey(name string) string {
	core := strings.TrimSuffix(strings.TrimPrefix(name, BackupPrefix), BackupExt)
	if len(core) <= len(backupTimeLayout) {
		return core + "_0000"
	}
	stamp := core[:len(backupTimeLayout)]
	n, err := strconv.Atoi(strings.TrimPrefix(core[len(backupTimeLayout):], "_"))
	if err != nil {
		return core
	}
	return fmt.Sprintf("%s_%04d", stamp, n)
}
