package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videopress/backend/internal/apperr"
	"github.com/videopress/backend/internal/models"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memStore struct {
	mu    sync.Mutex
	docs  map[string]SessionSnapshot
	saves int
}

func newMemStore() *memStore { return &memStore{docs: map[string]SessionSnapshot{}} }

func (m *memStore) Save(_ context.Context, snap SessionSnapshot) error {
	m.mu.Lock()
	m.docs[snap.Session.ID] = snap
	m.saves++
	m.mu.Unlock()
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.docs, id)
	m.mu.Unlock()
	return nil
}

func (m *memStore) LoadAll(context.Context) ([]SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionSnapshot, 0, len(m.docs))
	for _, s := range m.docs {
		out = append(out, s)
	}
	return out, nil
}

func newTestRegistry(t *testing.T, store Store) (*Registry, *clock, string) {
	t.Helper()
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	dir := t.TempDir()
	r := New(Options{
		FileRetention:   24 * time.Hour,
		SessionLifetime: 7 * 24 * time.Hour,
		Dirs:            []string{dir},
		Now:             c.Now,
		Store:           store,
	}, nil)
	return r, c, dir
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("data"), 0o644))
	return p
}

func upload(id, path string, at time.Time) models.Upload {
	return models.Upload{ID: id, OriginalName: id + ".mp4", Path: path, Size: 1000, Kind: models.MediaKindVideo, CreatedAt: at}
}

func TestResolveSession(t *testing.T) {
	r, c, _ := newTestRegistry(t, nil)

	s, created := r.ResolveSession("")
	require.True(t, created)
	assert.Equal(t, c.Now().Add(7*24*time.Hour), s.ExpiresAt)

	again, created := r.ResolveSession(s.ID)
	assert.False(t, created)
	assert.Equal(t, s.ID, again.ID)

	other, created := r.ResolveSession("1700000000_unknown")
	assert.True(t, created)
	assert.NotEqual(t, "1700000000_unknown", other.ID)

	c.Advance(8 * 24 * time.Hour)
	fresh, created := r.ResolveSession(s.ID)
	assert.True(t, created)
	assert.NotEqual(t, s.ID, fresh.ID)
}

func TestSessionsAreIsolated(t *testing.T) {
	r, c, dir := newTestRegistry(t, nil)
	a := r.NewSession()
	b := r.NewSession()
	require.NoError(t, r.RecordUpload(a.ID, upload("f1", writeFile(t, dir, "f1.mp4"), c.Now())))

	_, err := r.Upload(b.ID, "f1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	files, err := r.ListFiles(b.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.True(t, apperr.Is(r.Delete(b.ID, "f1"), apperr.KindNotFound))
	assert.FileExists(t, filepath.Join(dir, "f1.mp4"))
}

func TestRecordOutputsReplacesRun(t *testing.T) {
	r, c, dir := newTestRegistry(t, nil)
	s := r.NewSession()
	require.NoError(t, r.RecordUpload(s.ID, upload("f1", writeFile(t, dir, "f1.mp4"), c.Now())))

	first := []models.Output{
		{Part: 1, Path: writeFile(t, dir, "f1_part01.mp4"), Size: 10, Status: models.OutputStatusReady},
		{Part: 2, Path: writeFile(t, dir, "f1_part02.mp4"), Size: 10, Status: models.OutputStatusReady},
	}
	require.NoError(t, r.RecordOutputs(s.ID, "f1", first))

	second := []models.Output{{Part: 1, Path: writeFile(t, dir, "f1_compressed.mp4"), Size: 12, Status: models.OutputStatusReady}}
	require.NoError(t, r.RecordOutputs(s.ID, "f1", second))

	outs, err := r.Outputs(s.ID, "f1")
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.NoFileExists(t, filepath.Join(dir, "f1_part01.mp4"))
	assert.NoFileExists(t, filepath.Join(dir, "f1_part02.mp4"))
	assert.FileExists(t, filepath.Join(dir, "f1_compressed.mp4"))

	_, err = r.Output(s.ID, "f1", 2)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRecordOutputsValidation(t *testing.T) {
	r, c, dir := newTestRegistry(t, nil)
	s := r.NewSession()
	require.NoError(t, r.RecordUpload(s.ID, upload("f1", writeFile(t, dir, "f1.mp4"), c.Now())))

	err := r.RecordOutputs(s.ID, "f1", []models.Output{{Part: 1}, {Part: 3}})
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))

	err = r.RecordOutputs(s.ID, "missing", []models.Output{{Part: 1}})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestSweepExpiresFilesAndLeavesTombstones(t *testing.T) {
	r, c, dir := newTestRegistry(t, nil)
	s := r.NewSession()
	oldPath := writeFile(t, dir, "old.mp4")
	outPath := writeFile(t, dir, "old_compressed.mp4")
	require.NoError(t, r.RecordUpload(s.ID, upload("old", oldPath, c.Now())))
	require.NoError(t, r.RecordOutputs(s.ID, "old", []models.Output{{Part: 1, Path: outPath, Status: models.OutputStatusReady}}))

	var removed []string
	r.OnRemove(func(_, uploadID string) { removed = append(removed, uploadID) })

	c.Advance(23 * time.Hour)
	newPath := writeFile(t, dir, "new.mp4")
	require.NoError(t, r.RecordUpload(s.ID, upload("new", newPath, c.Now())))

	c.Advance(2 * time.Hour)
	report := r.Sweep()
	assert.Equal(t, 1, report.Uploads)
	assert.Equal(t, []string{"old"}, removed)
	assert.NoFileExists(t, oldPath)
	assert.NoFileExists(t, outPath)
	assert.FileExists(t, newPath)

	_, err := r.Upload(s.ID, "old")
	assert.True(t, apperr.Is(err, apperr.KindFileExpired))
	_, err = r.Upload(s.ID, "new")
	assert.NoError(t, err)
	assert.Equal(t, 1, r.Stats().Tombstones)
}

func TestReadsHonourRetentionBeforeSweep(t *testing.T) {
	r, c, dir := newTestRegistry(t, nil)
	s := r.NewSession()
	p := writeFile(t, dir, "a.mp4")
	out := writeFile(t, dir, "a_compressed.mp4")
	require.NoError(t, r.RecordUpload(s.ID, upload("a", p, c.Now())))
	require.NoError(t, r.RecordOutputs(s.ID, "a", []models.Output{{Part: 1, Path: out, Size: 4, Status: models.OutputStatusReady}}))

	var removed []string
	r.OnRemove(func(_, uploadID string) { removed = append(removed, uploadID) })

	c.Advance(24*time.Hour - time.Minute)
	files, err := r.ListFiles(s.ID)
	require.NoError(t, err)
	assert.Len(t, files, 1)
	_, err = r.Output(s.ID, "a", 1)
	require.NoError(t, err)

	c.Advance(2 * time.Minute)
	files, err = r.ListFiles(s.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
	_, err = r.Upload(s.ID, "a")
	assert.True(t, apperr.Is(err, apperr.KindFileExpired))
	_, err = r.Outputs(s.ID, "a")
	assert.True(t, apperr.Is(err, apperr.KindFileExpired))
	info, err := r.Info(s.ID)
	require.NoError(t, err)
	assert.Zero(t, info.Uploads)
	assert.Zero(t, info.OutputBytes)

	assert.Equal(t, []string{"a"}, removed)
	assert.NoFileExists(t, p)
	assert.NoFileExists(t, out)
}

func TestRetentionBoundaryIsExclusive(t *testing.T) {
	r, c, dir := newTestRegistry(t, nil)
	s := r.NewSession()
	require.NoError(t, r.RecordUpload(s.ID, upload("a", writeFile(t, dir, "a.mp4"), c.Now())))

	c.Advance(24 * time.Hour)
	_, err := r.Upload(s.ID, "a")
	assert.True(t, apperr.Is(err, apperr.KindFileExpired))
}

func TestSessionsPersistOnFirstUpload(t *testing.T) {
	store := newMemStore()
	r, c, dir := newTestRegistry(t, store)

	for i := 0; i < 5; i++ {
		r.ResolveSession("")
	}
	s, _ := r.ResolveSession("")
	assert.Zero(t, store.saves)
	require.NoError(t, r.Close(context.Background()))
	assert.Empty(t, store.docs)

	require.NoError(t, r.RecordUpload(s.ID, upload("a", writeFile(t, dir, "a.mp4"), c.Now())))
	assert.Equal(t, 1, store.saves)
	assert.Contains(t, store.docs, s.ID)
}

func TestSweepExpiresSessions(t *testing.T) {
	r, c, dir := newTestRegistry(t, nil)
	s := r.NewSession()
	p := writeFile(t, dir, "a.mp4")
	require.NoError(t, r.RecordUpload(s.ID, upload("a", p, c.Now())))

	c.Advance(7*24*time.Hour + time.Minute)
	report := r.Sweep()
	assert.Equal(t, 1, report.Sessions)
	assert.NoFileExists(t, p)
	_, err := r.Session(s.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestSweepRemovesOrphans(t *testing.T) {
	r, c, dir := newTestRegistry(t, nil)
	orphan := writeFile(t, dir, "orphan.mp4")
	old := c.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(orphan, old, old))
	fresh := writeFile(t, dir, "in-progress.mp4")

	report := r.Sweep()
	assert.Equal(t, 1, report.Orphans)
	assert.NoFileExists(t, orphan)
	assert.FileExists(t, fresh)
}

func TestDeleteAndClear(t *testing.T) {
	r, c, dir := newTestRegistry(t, nil)
	s := r.NewSession()
	p1 := writeFile(t, dir, "a.mp4")
	p2 := writeFile(t, dir, "b.mp4")
	require.NoError(t, r.RecordUpload(s.ID, upload("a", p1, c.Now())))
	require.NoError(t, r.RecordUpload(s.ID, upload("b", p2, c.Now())))

	require.NoError(t, r.Delete(s.ID, "a"))
	assert.NoFileExists(t, p1)
	_, err := r.Upload(s.ID, "a")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	next, err := r.Clear(s.ID)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, next.ID)
	assert.NoFileExists(t, p2)
	_, err = r.Session(s.ID)
	assert.Error(t, err)
}

func TestListFilesNewestFirstAndInfo(t *testing.T) {
	r, c, dir := newTestRegistry(t, nil)
	s := r.NewSession()
	require.NoError(t, r.RecordUpload(s.ID, upload("a", writeFile(t, dir, "a.mp4"), c.Now())))
	c.Advance(time.Minute)
	require.NoError(t, r.RecordUpload(s.ID, upload("b", writeFile(t, dir, "b.mp4"), c.Now())))
	require.NoError(t, r.RecordOutputs(s.ID, "b", []models.Output{
		{Part: 1, Size: 300, Status: models.OutputStatusReady},
		{Part: 2, Status: models.OutputStatusFailed},
	}))

	files, err := r.ListFiles(s.ID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "b", files[0].Upload.ID)

	info, err := r.Info(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Uploads)
	assert.Equal(t, 1, info.Outputs)
	assert.Equal(t, int64(2000), info.UploadBytes)
	assert.Equal(t, int64(300), info.OutputBytes)

	st := r.Stats()
	assert.Equal(t, 1, st.Sessions)
	assert.Equal(t, 1, st.Outputs)
}

func TestStoreRoundTrip(t *testing.T) {
	store := newMemStore()
	r, c, dir := newTestRegistry(t, store)
	s := r.NewSession()
	p := writeFile(t, dir, "a.mp4")
	out := writeFile(t, dir, "a_compressed.mp4")
	require.NoError(t, r.RecordUpload(s.ID, upload("a", p, c.Now())))
	require.NoError(t, r.RecordOutputs(s.ID, "a", []models.Output{{Part: 1, Path: out, Status: models.OutputStatusReady}}))
	require.NoError(t, r.Close(context.Background()))

	restored := New(Options{Now: c.Now, Store: store}, nil)
	n, err := restored.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	up, err := restored.Upload(s.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, p, up.Path)
	o, err := restored.Output(s.ID, "a", 1)
	require.NoError(t, err)
	assert.Equal(t, out, o.Path)

	_, err = restored.Clear(s.ID)
	require.NoError(t, err)
	_, stillThere := store.docs[s.ID]
	assert.False(t, stillThere)
}

func TestConcurrentAccess(t *testing.T) {
	r, c, _ := newTestRegistry(t, nil)
	s := r.NewSession()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			_ = r.RecordUpload(s.ID, upload(id, "", c.Now()))
			_, _ = r.ListFiles(s.ID)
			_ = r.Stats()
		}(i)
	}
	wg.Wait()
	files, err := r.ListFiles(s.ID)
	require.NoError(t, err)
	assert.Len(t, files, 20)
}
