package export

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/framecast/internal/checksum"
	"github.com/bobarin/framecast/internal/logx"
	"github.com/bobarin/framecast/internal/models"
	"github.com/bobarin/framecast/internal/remote"
)

const (
	DefaultBatchSize = 96
	DefaultJobWait   = 30 * time.Minute

	cloudRenderEnd = 90.0
	cloudEncodeEnd = 99.0
)

// Persister stores finished videos durably. storage.Storage satisfies it.
type Persister interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	GetPublicURL(path string) string
}

// CloudOptions tune the remote path. Zero values take defaults.
type CloudOptions struct {
	BatchSize int
	JobWait   time.Duration
	// Persist mirrors the result into durable storage when a Persister is set.
	Persist bool

	PollMinInterval time.Duration
	PollMaxInterval time.Duration
}

// CloudExporter renders locally and streams frames to a render server
// that encodes them.
type CloudExporter struct {
	deps      Deps
	client    *remote.Client
	persister Persister
	opts      CloudOptions
	logger    zerolog.Logger
}

func NewCloudExporter(deps Deps, client *remote.Client, persister Persister, opts CloudOptions) *CloudExporter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.JobWait <= 0 {
		opts.JobWait = DefaultJobWait
	}
	if opts.PollMinInterval <= 0 {
		opts.PollMinInterval = pollMinInterval
	}
	if opts.PollMaxInterval <= 0 {
		opts.PollMaxInterval = pollMaxInterval
	}
	return &CloudExporter{
		deps:      deps,
		client:    client,
		persister: persister,
		opts:      opts,
		logger:    logx.Component("cloud-export"),
	}
}

func (e *CloudExporter) Export(ctx context.Context, comp *models.Composition, onProgress models.ProgressFunc, cfg models.ExportConfig) (*Result, error) {
	ctx = logx.WithExportID(ctx, NewExportID())
	logger := logx.FromCtx(ctx, e.logger)

	tr := NewTracker(onProgress)
	res, err := e.export(ctx, comp, cfg, tr)
	if err != nil {
		tr.Fail()
		logger.Error().Err(err).Msg("cloud export failed")
		return nil, err
	}
	tr.Complete("Export complete")
	return res, nil
}

func (e *CloudExporter) export(ctx context.Context, comp *models.Composition, cfg models.ExportConfig, tr *Tracker) (*Result, error) {
	cache := e.deps.cache()
	defer cache.Clear()

	prep, err := prepare(ctx, e.deps, cache, comp, cfg, tr)
	if err != nil {
		return nil, err
	}
	enc, err := NewFrameEncoder(cfg.FrameFormat)
	if err != nil {
		return nil, err
	}
	c, err := newCompositor(e.deps, cache)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	tr.Stage(models.StagePreparing, 0, "Opening render session")
	session, err := e.client.InitSession(ctx, comp.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open render session: %w", err)
	}
	ctx = logx.WithSessionID(ctx, session.SessionID.String())
	logger := logx.FromCtx(ctx, e.logger)

	logger.Info().
		Int("frames", prep.totalFrames).
		Int("batch_size", e.opts.BatchSize).
		Bool("push_progress", session.PushProgress).
		Msg("render session opened")

	sums := checksum.NewManager(e.deps.Checksums, e.opts.BatchSize*prep.width*prep.height/4)
	sink := newUploadSink(e.client, session.SessionID, enc, e.opts.BatchSize, sums)

	loop := &renderLoop{comp: c, enc: enc, prep: prep}
	tr.Stage(models.StageRendering, 0, "Rendering frames")
	err = loop.run(ctx, sink, func(ev FrameEvent) {
		tr.Report(renderingProgress(ev, 0, cloudRenderEnd))
	})
	if err != nil {
		// let an in-flight upload settle before returning
		sink.wait()
		return nil, err
	}

	if err := e.client.PutManifest(ctx, session.SessionID, sums.Entries()); err != nil {
		return nil, fmt.Errorf("failed to send checksum manifest: %w", err)
	}

	tr.Stage(models.StageEncoding, cloudRenderEnd, "Encoding video")
	file, err := e.awaitJobResult(ctx, session.SessionID, session.PushProgress, models.FinalizeRequest{
		FPS:         cfg.FPS,
		TotalFrames: prep.totalFrames,
	}, tr)
	if err != nil {
		return nil, err
	}

	res := &Result{File: file}
	if e.opts.Persist && e.persister != nil {
		res.RemoteURL = e.persist(ctx, session.SessionID, file)
	}

	logger.Info().Int("bytes", len(file)).Int("uploads", sink.uploads).Msg("cloud export complete")
	return res, nil
}

// persist stores the result and returns its public URL, or "" on failure.
// Failures never fail the export.
func (e *CloudExporter) persist(ctx context.Context, sessionID uuid.UUID, file []byte) string {
	logger := logx.FromCtx(ctx, e.logger)
	path := fmt.Sprintf("exports/%s.mp4", sessionID)
	if err := e.persister.Upload(ctx, path, file, "video/mp4"); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to persist export, continuing")
		return ""
	}
	return e.persister.GetPublicURL(path)
}

// uploadSink batches frames and uploads each full batch in the background
// while rendering continues. At most one upload is in flight; the next
// full batch waits for the slot. The first upload error fails every later
// WriteFrame and Flush.
type uploadSink struct {
	client    *remote.Client
	sessionID uuid.UUID
	enc       FrameEncoder
	batchSize int
	sums      *checksum.Manager

	batch   []remote.Frame
	slot    chan struct{}
	uploads int

	mu  sync.Mutex
	err error
}

func newUploadSink(client *remote.Client, sessionID uuid.UUID, enc FrameEncoder, batchSize int, sums *checksum.Manager) *uploadSink {
	return &uploadSink{
		client:    client,
		sessionID: sessionID,
		enc:       enc,
		batchSize: batchSize,
		sums:      sums,
		slot:      make(chan struct{}, 1),
	}
}

func (s *uploadSink) WriteFrame(ctx context.Context, index int, data []byte) error {
	if err := s.failure(); err != nil {
		return err
	}
	s.batch = append(s.batch, remote.Frame{Index: index, Data: data})
	if len(s.batch) < s.batchSize {
		return nil
	}

	batch := s.batch
	s.batch = nil
	if err := s.acquire(ctx); err != nil {
		return err
	}
	if err := s.failure(); err != nil {
		s.release()
		return err
	}

	s.uploads++
	go func() {
		defer s.release()
		if err := s.upload(ctx, batch); err != nil {
			s.setFailure(err)
		}
	}()
	return nil
}

// Flush uploads the final partial batch synchronously and waits for any
// upload still in flight.
func (s *uploadSink) Flush(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if err := s.failure(); err != nil {
		return err
	}
	if len(s.batch) == 0 {
		return nil
	}

	batch := s.batch
	s.batch = nil
	s.uploads++
	return s.upload(ctx, batch)
}

func (s *uploadSink) upload(ctx context.Context, batch []remote.Frame) error {
	frames := make([]checksum.Frame, len(batch))
	for i, f := range batch {
		frames[i] = checksum.Frame{Index: f.Index, Data: f.Data}
	}
	if _, err := s.sums.HashBatch(ctx, frames); err != nil {
		return fmt.Errorf("failed to hash frames: %w", err)
	}

	if err := s.client.UploadChunk(ctx, s.sessionID, batch, s.enc.ContentType(), s.enc.Ext()); err != nil {
		return fmt.Errorf("failed to upload frames %d-%d: %w", batch[0].Index, batch[len(batch)-1].Index, err)
	}
	return nil
}

// wait blocks until no upload is in flight.
func (s *uploadSink) wait() {
	s.slot <- struct{}{}
	<-s.slot
}

func (s *uploadSink) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *uploadSink) release() { <-s.slot }

func (s *uploadSink) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *uploadSink) setFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
