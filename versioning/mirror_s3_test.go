package versioning_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"f0oster/permspy/versioning"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putRecorder struct {
	mu     sync.Mutex
	paths  []string
	bodies []string
	status int
}

func (p *putRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	body, _ := io.ReadAll(r.Body)
	if r.Method == http.MethodPut {
		p.paths = append(p.paths, r.URL.Path)
		p.bodies = append(p.bodies, string(body))
	}
	w.WriteHeader(p.status)
}

func newTestMirror(t *testing.T, rec *putRecorder) *versioning.S3Mirror {
	t.Helper()
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)
	return versioning.NewS3Mirror(versioning.S3Config{
		Bucket:   "audit",
		Prefix:   "permissions",
		Region:   "us-east-1",
		Endpoint: srv.URL,
		KeyID:    "test",
		Secret:   "test",
	})
}

func TestS3Mirror_PutUsesPrefixedKey(t *testing.T) {
	rec := &putRecorder{status: http.StatusOK}
	mirror := newTestMirror(t, rec)

	err := mirror.Put(context.Background(), "permissions_backup_20260203_040506.json", []byte(`{"roles":[]}`))
	require.NoError(t, err)

	require.Len(t, rec.paths, 1)
	assert.Equal(t, "/audit/permissions/permissions_backup_20260203_040506.json", rec.paths[0])
	assert.Contains(t, rec.bodies[0], `{"roles":[]}`)
}

func TestS3Mirror_PutError(t *testing.T) {
	rec := &putRecorder{status: http.StatusForbidden}
	mirror := newTestMirror(t, rec)

	err := mirror.Put(context.Background(), "b.json", []byte("{}"))
	assert.ErrorContains(t, err, "s3://audit/permissions/b.json")
}

func TestStore_MirrorsBackupsToS3(t *testing.T) {
	rec := &putRecorder{status: http.StatusOK}
	store := newStore(t, versioning.WithMirror(newTestMirror(t, rec)))

	_, backup, err := store.Save(context.Background(), testSnapshot())
	require.NoError(t, err)
	require.NotEmpty(t, backup)
	require.Len(t, rec.paths, 1)
	assert.Contains(t, rec.paths[0], "/audit/permissions/permissions_backup_")
}
