package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videopress/backend/internal/archive"
	"github.com/videopress/backend/internal/models"
	"github.com/videopress/backend/pkg/queue"
)

type fakeArchiver struct {
	mu    sync.Mutex
	err   []error
	calls []queue.ArchivePayload
}

func (f *fakeArchiver) Put(_ context.Context, p queue.ArchivePayload) (*models.ArchivedOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	if len(f.err) > 0 {
		err := f.err[0]
		f.err = f.err[1:]
		if err != nil {
			return nil, err
		}
	}
	return &models.ArchivedOutput{FileID: p.FileID, Part: p.Part, S3Key: "outputs/" + p.FileID}, nil
}

func (f *fakeArchiver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type chanQueue struct {
	jobs    chan *queue.Job
	mu      sync.Mutex
	retried []*queue.Job
}

func (q *chanQueue) Dequeue(ctx context.Context) (*queue.Job, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case j := <-q.jobs:
		return j, queue.QueueArchive, nil
	}
}

func (q *chanQueue) Retry(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempt++
	q.retried = append(q.retried, job)
	return nil
}

func (q *chanQueue) retries() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.retried)
}

func archiveJob(t *testing.T, fileID string) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(queue.ArchivePayload{SessionID: "s", FileID: fileID, Part: 1, Path: "/tmp/x.mp4", Name: "x.mp4"})
	require.NoError(t, err)
	return &queue.Job{ID: "job-" + fileID, Type: queue.JobTypeArchiveOutput, Payload: raw}
}

func TestProcess(t *testing.T) {
	a := &fakeArchiver{}
	p := NewArchiveProcessor(a, &chanQueue{}, nil)

	require.NoError(t, p.Process(context.Background(), archiveJob(t, "f1")))
	assert.Equal(t, "f1", a.calls[0].FileID)

	err := p.Process(context.Background(), &queue.Job{ID: "x", Type: "recording_upload"})
	assert.Error(t, err)
}

func TestProcessDropsJobWhenSourceGone(t *testing.T) {
	a := &fakeArchiver{err: []error{archive.ErrSourceGone}}
	p := NewArchiveProcessor(a, &chanQueue{}, nil)
	assert.NoError(t, p.Process(context.Background(), archiveJob(t, "f1")))
}

func TestRunRetriesFailedJobs(t *testing.T) {
	a := &fakeArchiver{err: []error{errors.New("s3 down")}}
	q := &chanQueue{jobs: make(chan *queue.Job, 2)}
	p := NewArchiveProcessor(a, q, nil)
	p.backoff = time.Millisecond

	q.jobs <- archiveJob(t, "f1")
	q.jobs <- archiveJob(t, "f2")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return a.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, q.retries())
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
