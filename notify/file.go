package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"f0oster/permspy/fileutil"

	"github.com/google/uuid"
)

// ArtifactFile is the notification file name inside the data directory.
const ArtifactFile = "update_notification.json"

// FileChannel keeps the pending notification in a single file. Presence of
// the file means a notification is pending.
type FileChannel struct {
	path string
	now  func() time.Time
}

func NewFileChannel(dir string) *FileChannel {
	return &FileChannel{
		path: filepath.Join(dir, ArtifactFile),
		now:  time.Now,
	}
}

// Path returns the artifact location.
func (c *FileChannel) Path() string {
	return c.path
}

// Notify writes the artifact through a temp file and rename so a concurrent
// Consume never reads a torn document.
func (c *FileChannel) Notify(_ context.Context, message string) error {
	data, err := json.Marshal(Payload{Timestamp: c.now(), Message: message})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := fileutil.WriteFileAtomic(c.path, data); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Consume claims the artifact by renaming it to a private name, then reads
// and deletes the claimed copy. Only one of several concurrent consumers
// can win the rename; the others see no update.
func (c *FileChannel) Consume(_ context.Context) (*Payload, error) {
	claimed := c.path + ".claimed-" + uuid.NewString()
	if err := os.Rename(c.path, claimed); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim notification: %w", err)
	}
	defer os.Remove(claimed)

	return readPayload(claimed)
}

// Peek returns the pending notification without clearing it, or nil if none.
func (c *FileChannel) Peek(_ context.Context) (*Payload, error) {
	return readPayload(c.path)
}

func readPayload(path string) (*Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read notification: %w", err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	return &p, nil
}

// Pending reports whether a notification is waiting, without consuming it.
func (c *FileChannel) Pending() bool {
	_, err := os.Stat(c.path)
	return err == nil
}
