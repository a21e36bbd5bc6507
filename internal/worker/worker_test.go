package worker

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/framecast/internal/models"
	"github.com/bobarin/framecast/internal/queue"
	"github.com/bobarin/framecast/internal/spool"
	"github.com/bobarin/framecast/internal/storage"
)

type fakeStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*models.ExportJob
	progress []float64
}

func (s *fakeStore) GetExportJob(_ context.Context, id uuid.UUID) (*models.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *job
	return &cp, nil
}

func (s *fakeStore) UpdateExportProgress(_ context.Context, id uuid.UUID, status models.JobStatus, p float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = status
	s.jobs[id].ProgressPercent = p
	s.progress = append(s.progress, p)
	return nil
}

func (s *fakeStore) CompleteExportJob(_ context.Context, id uuid.UUID, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = models.JobStatusComplete
	s.jobs[id].ResultHandle = &handle
	return nil
}

func (s *fakeStore) FailExportJob(_ context.Context, id uuid.UUID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = models.JobStatusFailed
	s.jobs[id].ErrorMessage = &msg
	return nil
}

type fakeQueue struct {
	mu     sync.Mutex
	jobs   chan *queue.EncodeJob
	events []models.JobEvent
}

func (q *fakeQueue) DequeueEncode(ctx context.Context, timeout time.Duration) (*queue.EncodeJob, error) {
	select {
	case j := <-q.jobs:
		return j, nil
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *fakeQueue) PublishEvent(_ context.Context, _ uuid.UUID, ev models.JobEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	return nil
}

func (q *fakeQueue) last() models.JobEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.events[len(q.events)-1]
}

type fakeEncoder struct {
	err     error
	pattern string
}

func (e *fakeEncoder) EncodeWithProgress(_ context.Context, pattern string, fps, total int, audio, out string, onProgress func(float64)) error {
	e.pattern = pattern
	if e.err != nil {
		return e.err
	}
	for _, f := range []float64{0.25, 0.25, 0.5, 1} {
		onProgress(f)
	}
	return os.WriteFile(out, []byte("mp4"), 0644)
}

type fakePersister struct {
	paths []string
	err   error
}

func (p *fakePersister) Upload(_ context.Context, path string, data []byte, _ string) error {
	if p.err != nil {
		return p.err
	}
	p.paths = append(p.paths, path)
	return nil
}

func setup(t *testing.T) (*spool.Spool, *fakeStore, *fakeQueue, *models.ExportJob) {
	t.Helper()
	sp, err := spool.New(t.TempDir())
	require.NoError(t, err)

	jobID := uuid.New()
	job := &models.ExportJob{
		SessionID:   uuid.New(),
		JobID:       &jobID,
		TotalFrames: 2,
		FPS:         30,
		AudioPath:   "/audio.mp3",
		Status:      models.JobStatusQueued,
	}
	sess := sp.Session(job.SessionID)
	for i := 0; i < 2; i++ {
		require.NoError(t, sess.SaveFrame(i, "png", strings.NewReader("f")))
	}

	store := &fakeStore{jobs: map[uuid.UUID]*models.ExportJob{jobID: job}}
	q := &fakeQueue{jobs: make(chan *queue.EncodeJob, 1)}
	return sp, store, q, job
}

func TestEncodeLocalResult(t *testing.T) {
	sp, store, q, job := setup(t)
	enc := &fakeEncoder{}
	w := New(store, q, sp, enc, nil)

	handle, err := w.Encode(context.Background(), job)
	require.NoError(t, err)

	sess := sp.Session(job.SessionID)
	assert.Equal(t, sess.OutputPath(), handle)
	assert.True(t, strings.HasSuffix(enc.pattern, "frame_%06d.png"))
	assert.Equal(t, []float64{0, 25, 50}, store.progress)
	assert.Equal(t, models.JobStatusComplete, q.last().Status)

	present, err := sess.Present()
	require.NoError(t, err)
	assert.Empty(t, present, "frames removed after encode")
}

func TestEncodePersists(t *testing.T) {
	sp, store, q, job := setup(t)
	p := &fakePersister{}
	w := New(store, q, sp, &fakeEncoder{}, p)

	handle, err := w.Encode(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, storage.ExportPath(*job.JobID), handle)
	assert.Equal(t, []string{handle}, p.paths)
}

func TestEncodePersistFailureKeepsLocal(t *testing.T) {
	sp, store, q, job := setup(t)
	w := New(store, q, sp, &fakeEncoder{}, &fakePersister{err: errors.New("bucket gone")})

	handle, err := w.Encode(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, sp.Session(job.SessionID).OutputPath(), handle)
}

func TestEncodeFailure(t *testing.T) {
	sp, store, q, job := setup(t)
	w := New(store, q, sp, &fakeEncoder{err: errors.New("ffmpeg failed: exit 1")}, nil)

	_, err := w.Encode(context.Background(), job)
	require.Error(t, err)

	rec := store.jobs[*job.JobID]
	assert.Equal(t, models.JobStatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "exit 1")

	ev := q.last()
	assert.Equal(t, models.JobStatusFailed, ev.Status)
	assert.Contains(t, ev.Error, "exit 1")
}

func TestEncodeRequiresFinalize(t *testing.T) {
	sp, store, q, job := setup(t)
	job.JobID = nil
	_, err := New(store, q, sp, &fakeEncoder{}, nil).Encode(context.Background(), job)
	assert.Error(t, err)
}

func TestStartProcessesQueue(t *testing.T) {
	sp, store, q, job := setup(t)
	w := New(store, q, sp, &fakeEncoder{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx, 1)
		close(done)
	}()

	q.jobs <- &queue.EncodeJob{ID: *job.JobID, SessionID: job.SessionID}
	require.Eventually(t, func() bool {
		rec, _ := store.GetExportJob(context.Background(), *job.JobID)
		return rec.Status == models.JobStatusComplete
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
