package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/framecast/internal/logx"
	"github.com/bobarin/framecast/internal/models"
	"github.com/bobarin/framecast/internal/remote"
)

const (
	pollMinInterval   = 2 * time.Second
	pollMaxInterval   = 15 * time.Second
	pollBackoffFactor = 1.5

	defaultJobFailure = "remote encode failed"
)

// awaitJobResult finalizes the session and returns the encoded file. With
// push support the job runs asynchronously and is followed over the event
// stream, or by polling when the stream cannot be opened or drops. Without
// push the finalize call blocks and its body is the file. Callers never
// see which transport was used.
func (e *CloudExporter) awaitJobResult(ctx context.Context, sessionID uuid.UUID, push bool, req models.FinalizeRequest, tr *Tracker) ([]byte, error) {
	logger := logx.FromCtx(ctx, e.logger)

	req.Sync = !push
	res, err := e.client.Finalize(ctx, sessionID, req)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize export: %w", err)
	}
	if res.JobID == nil {
		return res.File, nil
	}
	jobID := *res.JobID

	waitCtx, cancel := context.WithTimeout(ctx, e.opts.JobWait)
	defer cancel()

	stream, err := e.client.Subscribe(waitCtx, jobID)
	if err != nil {
		logger.Warn().Err(err).Str("job_id", jobID.String()).Msg("job events unavailable, polling")
		err = e.pollJob(waitCtx, jobID, tr)
	} else {
		err = e.watchEvents(waitCtx, stream, tr)
		if errors.Is(err, errStreamClosed) {
			logger.Warn().Str("job_id", jobID.String()).Msg("job event stream dropped, polling")
			err = e.pollJob(waitCtx, jobID, tr)
		}
	}
	if err != nil {
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %v (job_id=%s)", ErrJobTimeout, e.opts.JobWait, jobID)
		}
		return nil, err
	}

	file, err := e.client.Download(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to download export: %w", err)
	}
	return file, nil
}

var errStreamClosed = errors.New("job event stream closed")

// watchEvents follows push events until the job completes or fails.
func (e *CloudExporter) watchEvents(ctx context.Context, stream *remote.EventStream, tr *Tracker) error {
	type result struct {
		ev  models.JobEvent
		err error
	}
	events := make(chan result)
	done := make(chan struct{})
	defer close(done)
	defer stream.Close()

	go func() {
		for {
			ev, err := stream.Next()
			select {
			case events <- result{ev, err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-events:
			if r.err != nil {
				return fmt.Errorf("%w: %w", errStreamClosed, r.err)
			}
			finished, err := e.handleJobUpdate(r.ev.Status, r.ev.Progress, r.ev.Message, r.ev.Error, tr)
			if finished || err != nil {
				return err
			}
		}
	}
}

// pollJob polls the job record with exponential backoff.
func (e *CloudExporter) pollJob(ctx context.Context, jobID uuid.UUID, tr *Tracker) error {
	logger := logx.FromCtx(ctx, e.logger)
	interval := e.opts.PollMinInterval
	polls := 0

	for {
		polls++
		job, err := e.client.JobStatus(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to poll export job: %w", err)
		}

		errMsg := ""
		if job.ErrorMessage != nil {
			errMsg = *job.ErrorMessage
		}
		finished, err := e.handleJobUpdate(job.Status, job.ProgressPercent, "", errMsg, tr)
		if finished || err != nil {
			return err
		}

		logger.Debug().Int("poll", polls).Str("status", string(job.Status)).Dur("next", interval).Msg("job pending")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		next := time.Duration(float64(interval) * pollBackoffFactor)
		if next > e.opts.PollMaxInterval {
			next = e.opts.PollMaxInterval
		}
		interval = next
	}
}

// handleJobUpdate maps a remote status onto the local protocol. The remote
// 0-100 scale lands in the encoding band.
func (e *CloudExporter) handleJobUpdate(status models.JobStatus, progress float64, msg, errMsg string, tr *Tracker) (bool, error) {
	switch status {
	case models.JobStatusComplete:
		return true, nil
	case models.JobStatusFailed:
		switch {
		case errMsg != "":
			msg = errMsg
		case msg == "":
			msg = defaultJobFailure
		}
		return true, fmt.Errorf("export job failed: %s", msg)
	}

	if msg == "" {
		msg = "Encoding video"
	}
	tr.Stage(models.StageEncoding, band(cloudRenderEnd, cloudEncodeEnd, progress/100), msg)
	return false, nil
}
