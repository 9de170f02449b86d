package archive

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videopress/backend/internal/apperr"
	"github.com/videopress/backend/internal/models"
	"github.com/videopress/backend/pkg/queue"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string]*models.ArchivedOutput
}

func key(fileID string, part int) string { return fileID + "#" + string(rune('0'+part)) }

func (m *memStore) Upsert(_ context.Context, a *models.ArchivedOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CreatedAt = time.Now()
	cp := *a
	m.rows[key(a.FileID, a.Part)] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, fileID string, part int) (*models.ArchivedOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[key(fileID, part)]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, apperr.New(apperr.KindNotFound, "output is not archived")
}

func (m *memStore) DeleteByFile(_ context.Context, fileID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k, r := range m.rows {
		if r.FileID == fileID {
			keys = append(keys, r.S3Key)
			delete(m.rows, k)
		}
	}
	return keys, nil
}

func (m *memStore) DeleteExpired(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k, r := range m.rows {
		if !r.ExpiresAt.After(now) {
			keys = append(keys, r.S3Key)
			delete(m.rows, k)
		}
	}
	return keys, nil
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (m *memObjects) Upload(_ context.Context, _, key, _ string, body io.Reader, _ int64, md map[string]string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = data
	m.meta[key] = md
	m.mu.Unlock()
	return nil
}

func (m *memObjects) DeleteObject(_ context.Context, _, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *memObjects) DeletePrefix(_ context.Context, _, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			delete(m.objects, k)
			n++
		}
	}
	return n, nil
}

func (m *memObjects) GeneratePresignedDownloadURL(_ context.Context, bucket, key, _ string, _ time.Duration) (string, error) {
	return "https://" + bucket + ".example/" + key + "?sig=1", nil
}

func (m *memObjects) OutputsBucket() string        { return "outputs" }
func (m *memObjects) PresignExpire() time.Duration { return 15 * time.Minute }

func (m *memObjects) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func setup(t *testing.T) (*Archive, *memStore, *memObjects, string) {
	t.Helper()
	store := &memStore{rows: map[string]*models.ArchivedOutput{}}
	objects := newMemObjects()
	return New(store, objects, nil), store, objects, t.TempDir()
}

func TestPutAndDownloadURL(t *testing.T) {
	a, _, objects, dir := setup(t)
	path := filepath.Join(dir, "f1_part01.mp4")
	require.NoError(t, os.WriteFile(path, []byte("encoded"), 0o644))

	row, err := a.Put(context.Background(), queue.ArchivePayload{
		SessionID: "s1", FileID: "f1", Part: 1, Path: path, Name: "f1_part01.mp4",
		Algorithm: "neural_preserve", Checksum: "abc", ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "outputs/s1/f1/f1_part01.mp4", row.S3Key)
	assert.Equal(t, int64(7), row.Size)
	assert.True(t, objects.has(row.S3Key))
	assert.Equal(t, "abc", objects.meta[row.S3Key]["blake2b"])

	url, exp, err := a.DownloadURL(context.Background(), "s1", "f1", 1, "f1_part01.mp4")
	require.NoError(t, err)
	assert.Contains(t, url, row.S3Key)
	assert.Equal(t, 15*time.Minute, exp)

	_, _, err = a.DownloadURL(context.Background(), "intruder", "f1", 1, "")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestPutMissingSource(t *testing.T) {
	a, _, _, dir := setup(t)
	_, err := a.Put(context.Background(), queue.ArchivePayload{FileID: "f", Part: 1, Path: filepath.Join(dir, "gone.mp4"), Name: "gone.mp4"})
	assert.ErrorIs(t, err, ErrSourceGone)
}

func TestForgetAndExpire(t *testing.T) {
	a, store, objects, dir := setup(t)
	ctx := context.Background()
	for i, exp := range []time.Duration{time.Hour, -time.Minute} {
		p := filepath.Join(dir, "x.mp4")
		require.NoError(t, os.WriteFile(p, bytes.Repeat([]byte("x"), 10), 0o644))
		fileID := []string{"keep", "old"}[i]
		_, err := a.Put(ctx, queue.ArchivePayload{SessionID: "s", FileID: fileID, Part: 1, Path: p, Name: fileID + ".mp4", ExpiresAt: time.Now().Add(exp)})
		require.NoError(t, err)
	}

	n, err := a.Expire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, objects.has("outputs/s/old/old.mp4"))
	assert.True(t, objects.has("outputs/s/keep/keep.mp4"))

	require.NoError(t, a.Forget(ctx, "s", "keep"))
	assert.False(t, objects.has("outputs/s/keep/keep.mp4"))
	assert.Empty(t, store.rows)
}

func TestListenerForgetsInBackground(t *testing.T) {
	a, _, objects, dir := setup(t)
	p := filepath.Join(dir, "f.mp4")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	_, err := a.Put(context.Background(), queue.ArchivePayload{SessionID: "s", FileID: "f", Part: 1, Path: p, Name: "f.mp4", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	a.Listener()("s", "f")
	assert.Eventually(t, func() bool { return !objects.has("outputs/s/f/f.mp4") }, time.Second, 10*time.Millisecond)
}

func TestForgetRemovesUnindexedObjects(t *testing.T) {
	a, _, objects, _ := setup(t)
	ctx := context.Background()
	require.NoError(t, objects.Upload(ctx, "outputs", "outputs/s/f/f_part02.mp4", "video/mp4", strings.NewReader("orphan"), 6, nil))
	require.NoError(t, objects.Upload(ctx, "outputs", "outputs/s/other/other.mp4", "video/mp4", strings.NewReader("kept"), 4, nil))

	require.NoError(t, a.Forget(ctx, "s", "f"))
	assert.False(t, objects.has("outputs/s/f/f_part02.mp4"))
	assert.True(t, objects.has("outputs/s/other/other.mp4"))
}
