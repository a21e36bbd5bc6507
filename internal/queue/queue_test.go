package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/framecast/internal/models"
)

func TestEventChannel(t *testing.T) {
	id := uuid.MustParse("0b7a3f1e-8d4c-4a51-9e0f-2c6b1d3a5e77")
	assert.Equal(t, "job_events:0b7a3f1e-8d4c-4a51-9e0f-2c6b1d3a5e77", EventChannel(id))
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent(`{"status":"encoding","progress":42.5,"message":"Encoding video"}`)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusEncoding, ev.Status)
	assert.Equal(t, 42.5, ev.Progress)

	_, err = DecodeEvent("not json")
	assert.Error(t, err)
}

// The round trips below need a live redis; set TEST_REDIS_URL to run them.
func testQueue(t *testing.T) *Queue {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	q, err := New(url)
	require.NoError(t, err)
	t.Cleanup(func() {
		q.client.Del(context.Background(), QueueEncode)
		q.Close()
	})
	return q
}

func TestEncodeQueueRoundTrip(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()
	jobID, sessionID := uuid.New(), uuid.New()

	require.NoError(t, q.EnqueueEncode(ctx, jobID, sessionID))
	job, err := q.DequeueEncode(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, sessionID, job.SessionID)

	job, err = q.DequeueEncode(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestEventsRoundTrip(t *testing.T) {
	q := testQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	jobID := uuid.New()

	events, err := q.SubscribeEvents(ctx, jobID)
	require.NoError(t, err)

	want := models.JobEvent{Status: models.JobStatusEncoding, Progress: 10}
	require.NoError(t, q.PublishEvent(ctx, jobID, want))

	select {
	case got := <-events:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	for range events {
	}
}
