package queue

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeArchive(t *testing.T) {
	body, _ := json.Marshal(ArchivePayload{FileID: "f", Part: 2, Path: "/outputs/f_part02.mp4"})
	p, err := DecodeArchive(&Job{Type: JobTypeArchiveOutput, Payload: body})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Part)

	_, err = DecodeArchive(&Job{Type: "email", Payload: body})
	assert.Error(t, err)
	_, err = DecodeArchive(&Job{Type: JobTypeArchiveOutput, Payload: json.RawMessage(`{`)})
	assert.Error(t, err)
}

// TestQueueRoundTrip needs a reachable Redis; set REDIS_TEST_ADDR to run it.
func TestQueueRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	defer rdb.Close()
	require.NoError(t, rdb.Del(ctx, QueueArchive, QueueDLQ).Err())

	q := NewQueue(rdb, nil)
	require.NoError(t, q.EnqueueArchive(ctx, ArchivePayload{FileID: "f", Part: 1}))

	dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	job, key, err := q.Dequeue(dctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, QueueArchive, key)

	for i := 0; i < MaxRetries; i++ {
		require.NoError(t, q.Retry(ctx, job))
	}
	pending, dead, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(MaxRetries-1), pending)
	assert.Equal(t, int64(1), dead)
}
