package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/bobarin/framecast/internal/logx"
	"github.com/bobarin/framecast/internal/models"
)

const (
	localRenderEnd = 85.0
	framePrefix    = "frame_"
)

// VideoEncoder muxes a still sequence with an audio track.
type VideoEncoder interface {
	EncodeFrameSequence(ctx context.Context, framePattern string, fps int, audioPath, outputPath string) error
}

// LocalExporter renders and encodes entirely on this machine.
type LocalExporter struct {
	deps    Deps
	encoder VideoEncoder
	workDir string
	logger  zerolog.Logger
}

func NewLocalExporter(deps Deps, encoder VideoEncoder, workDir string) *LocalExporter {
	return &LocalExporter{
		deps:    deps,
		encoder: encoder,
		workDir: workDir,
		logger:  logx.Component("local-export"),
	}
}

func (e *LocalExporter) Export(ctx context.Context, comp *models.Composition, onProgress models.ProgressFunc, cfg models.ExportConfig) (*Result, error) {
	ctx = logx.WithExportID(ctx, NewExportID())
	logger := logx.FromCtx(ctx, e.logger)

	tr := NewTracker(onProgress)
	res, err := e.export(ctx, comp, cfg, tr, logger)
	if err != nil {
		tr.Fail()
		logger.Error().Err(err).Msg("local export failed")
		return nil, err
	}
	tr.Complete("Export complete")
	return res, nil
}

func (e *LocalExporter) export(ctx context.Context, comp *models.Composition, cfg models.ExportConfig, tr *Tracker, logger zerolog.Logger) (*Result, error) {
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

	if err := os.MkdirAll(e.workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	dir, err := os.MkdirTemp(e.workDir, "local-export-")
	if err != nil {
		return nil, fmt.Errorf("failed to create frame dir: %w", err)
	}
	defer os.RemoveAll(dir)

	logger.Info().
		Int("frames", prep.totalFrames).
		Int("fps", cfg.FPS).
		Int("width", prep.width).
		Int("height", prep.height).
		Msg("rendering locally")

	sink := &encoderSink{dir: dir, ext: enc.Ext()}
	loop := &renderLoop{comp: c, enc: enc, prep: prep}
	tr.Stage(models.StageRendering, 0, "Rendering frames")
	err = loop.run(ctx, sink, func(ev FrameEvent) {
		tr.Report(renderingProgress(ev, 0, localRenderEnd))
	})
	if err != nil {
		return nil, err
	}

	tr.Stage(models.StageEncoding, localRenderEnd, "Encoding video")
	out := filepath.Join(dir, "output.mp4")
	pattern := filepath.Join(dir, framePrefix+"%06d."+enc.Ext())
	if err := e.encoder.EncodeFrameSequence(ctx, pattern, cfg.FPS, comp.AudioPath, out); err != nil {
		return nil, fmt.Errorf("failed to encode video: %w", err)
	}

	file, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read encoded video: %w", err)
	}

	logger.Info().Int("bytes", len(file)).Int("frames", sink.written).Msg("local export complete")
	return &Result{File: file}, nil
}

// encoderSink writes numbered stills into the encoder's working directory.
type encoderSink struct {
	dir     string
	ext     string
	written int
}

func (s *encoderSink) WriteFrame(_ context.Context, index int, data []byte) error {
	path := filepath.Join(s.dir, fmt.Sprintf("%s%06d.%s", framePrefix, index, s.ext))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", index, err)
	}
	s.written++
	return nil
}

func (s *encoderSink) Flush(context.Context) error { return nil }
