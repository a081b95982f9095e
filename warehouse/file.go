package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"f0oster/permspy/snapshot"
)

// FileSource reads a previously exported snapshot document, for replaying
// captures and running without warehouse access.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Fetch(_ context.Context) (*snapshot.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	// The timestamp is decoded separately: exports from other tools carry
	// naive ISO timestamps that time.Time refuses.
	type alias snapshot.Snapshot
	snap := snapshot.New(time.Time{})
	doc := struct {
		Timestamp string `json:"timestamp"`
		*alias
	}{alias: (*alias)(snap)}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrSourceUnavailable, f.path, err)
	}
	snap.Timestamp = parseTimestamp(doc.Timestamp)
	return snap, nil
}

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func (f *FileSource) Close() error {
	return nil
}
