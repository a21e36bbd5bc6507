package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/framecast/internal/logx"
	"github.com/bobarin/framecast/internal/models"
	"github.com/bobarin/framecast/internal/queue"
	"github.com/bobarin/framecast/internal/spool"
	"github.com/bobarin/framecast/internal/storage"
)

const dequeueTimeout = 5 * time.Second

// Store is the slice of the job table the worker writes.
type Store interface {
	GetExportJob(ctx context.Context, jobID uuid.UUID) (*models.ExportJob, error)
	UpdateExportProgress(ctx context.Context, jobID uuid.UUID, status models.JobStatus, progress float64) error
	CompleteExportJob(ctx context.Context, jobID uuid.UUID, resultHandle string) error
	FailExportJob(ctx context.Context, jobID uuid.UUID, errorMessage string) error
}

// Queue hands out encode jobs and carries progress events.
type Queue interface {
	DequeueEncode(ctx context.Context, timeout time.Duration) (*queue.EncodeJob, error)
	PublishEvent(ctx context.Context, jobID uuid.UUID, ev models.JobEvent) error
}

// Encoder turns a frame sequence and audio into a video.
// services.FFmpegService satisfies it.
type Encoder interface {
	EncodeWithProgress(ctx context.Context, pattern string, fps, totalFrames int, audioPath, outputPath string, onProgress func(float64)) error
}

// Persister mirrors results into durable storage. storage.Storage
// satisfies it.
type Persister interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
}

type Worker struct {
	store   Store
	queue   Queue
	spool   *spool.Spool
	ffmpeg  Encoder
	storage Persister // nil keeps results on local disk
	logger  zerolog.Logger
}

func New(store Store, q Queue, sp *spool.Spool, ffmpeg Encoder, stor Persister) *Worker {
	return &Worker{
		store:   store,
		queue:   q,
		spool:   sp,
		ffmpeg:  ffmpeg,
		storage: stor,
		logger:  logx.Component("worker"),
	}
}

// Start runs concurrency encode loops until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	w.logger.Info().Int("concurrency", concurrency).Msg("worker started")

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processQueue(ctx)
		}()
	}

	<-ctx.Done()
	w.logger.Info().Msg("worker shutting down")
	wg.Wait()
}

func (w *Worker) processQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.DequeueEncode(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error().Err(err).Msg("failed to dequeue")
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue // No job available, retry
		}

		w.handleEncode(ctx, job)
	}
}

func (w *Worker) handleEncode(ctx context.Context, job *queue.EncodeJob) {
	ctx = logx.WithSessionID(ctx, job.SessionID.String())
	logger := logx.FromCtx(ctx, w.logger).With().Str("job_id", job.ID.String()).Logger()

	rec, err := w.store.GetExportJob(ctx, job.ID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load job")
		return
	}
	if rec.Status.Terminal() {
		logger.Warn().Str("status", string(rec.Status)).Msg("skipping finished job")
		return
	}

	logger.Info().Int("frames", rec.TotalFrames).Int("fps", rec.FPS).Msg("processing encode job")
	if _, err := w.Encode(ctx, rec); err != nil {
		logger.Error().Err(err).Msg("encode job failed")
		return
	}
	logger.Info().Msg("encode job completed")
}

// Encode runs one finalized job to a terminal state and returns the result
// handle. Progress and the outcome go to the store and the event channel.
func (w *Worker) Encode(ctx context.Context, job *models.ExportJob) (string, error) {
	if job.JobID == nil {
		return "", fmt.Errorf("export job %s is not finalized", job.SessionID)
	}
	jobID := *job.JobID

	handle, err := w.encode(ctx, jobID, job)
	if err != nil {
		msg := err.Error()
		// Record the failure even when the request that triggered it is gone
		bg := context.WithoutCancel(ctx)
		if dbErr := w.store.FailExportJob(bg, jobID, msg); dbErr != nil {
			w.logger.Error().Err(dbErr).Msg("failed to record job failure")
		}
		w.publish(bg, jobID, models.JobEvent{Status: models.JobStatusFailed, Progress: job.ProgressPercent, Error: msg})
		return "", err
	}

	if err := w.store.CompleteExportJob(ctx, jobID, handle); err != nil {
		return "", fmt.Errorf("failed to record job completion: %w", err)
	}
	w.publish(ctx, jobID, models.JobEvent{Status: models.JobStatusComplete, Progress: 100, Message: "Export complete"})
	return handle, nil
}

func (w *Worker) encode(ctx context.Context, jobID uuid.UUID, job *models.ExportJob) (string, error) {
	sess := w.spool.Session(job.SessionID)
	pattern, err := sess.Pattern()
	if err != nil {
		return "", fmt.Errorf("failed to locate frames: %w", err)
	}

	w.reportProgress(ctx, jobID, 0)
	var last int
	onProgress := func(frac float64) {
		pct := int(frac * 100)
		if pct <= last || pct >= 100 {
			return
		}
		last = pct
		w.reportProgress(ctx, jobID, float64(pct))
	}

	out := sess.OutputPath()
	if err := w.ffmpeg.EncodeWithProgress(ctx, pattern, job.FPS, job.TotalFrames, job.AudioPath, out, onProgress); err != nil {
		return "", fmt.Errorf("failed to encode video: %w", err)
	}

	if err := sess.RemoveFrames(); err != nil {
		logger := logx.FromCtx(ctx, w.logger)
		logger.Warn().Err(err).Msg("failed to remove frames")
	}

	if w.storage == nil {
		return out, nil
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return "", fmt.Errorf("failed to read encoded video: %w", err)
	}
	objectPath := storage.ExportPath(jobID)
	if err := w.storage.Upload(ctx, objectPath, data, "video/mp4"); err != nil {
		// The local copy still serves downloads
		logger := logx.FromCtx(ctx, w.logger)
		logger.Warn().Err(err).Str("path", objectPath).Msg("failed to persist export, keeping local copy")
		return out, nil
	}
	return objectPath, nil
}

func (w *Worker) reportProgress(ctx context.Context, jobID uuid.UUID, pct float64) {
	if err := w.store.UpdateExportProgress(ctx, jobID, models.JobStatusEncoding, pct); err != nil {
		logger := logx.FromCtx(ctx, w.logger)
		logger.Warn().Err(err).Msg("failed to update job progress")
	}
	w.publish(ctx, jobID, models.JobEvent{Status: models.JobStatusEncoding, Progress: pct, Message: "Encoding video"})
}

func (w *Worker) publish(ctx context.Context, jobID uuid.UUID, ev models.JobEvent) {
	if w.queue == nil {
		return
	}
	if err := w.queue.PublishEvent(ctx, jobID, ev); err != nil {
		logger := logx.FromCtx(ctx, w.logger)
		logger.Warn().Err(err).Str("status", string(ev.Status)).Msg("failed to publish job event")
	}
}
