// Command framecast renders a composition manifest to an MP4, locally
// through ffmpeg or through a render server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobarin/framecast/internal/compositor"
	"github.com/bobarin/framecast/internal/config"
	"github.com/bobarin/framecast/internal/export"
	"github.com/bobarin/framecast/internal/logx"
	"github.com/bobarin/framecast/internal/media"
	"github.com/bobarin/framecast/internal/models"
	"github.com/bobarin/framecast/internal/remote"
	"github.com/bobarin/framecast/internal/services"
	"github.com/bobarin/framecast/internal/storage"
)

type options struct {
	composition string
	out         string
	mode        string
	align       bool
	language    string
	assPath     string
	persist     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.composition, "composition", "", "composition manifest (.yaml, .yml or .json)")
	flag.StringVar(&opts.out, "out", "out.mp4", "output video path")
	flag.StringVar(&opts.mode, "mode", "local", "export mode: local or cloud")
	flag.BoolVar(&opts.align, "align", false, "fill missing word timing with Whisper")
	flag.StringVar(&opts.language, "language", "en", "narration language for -align")
	flag.StringVar(&opts.assPath, "ass", "", "also write an ASS subtitle sidecar to this path")
	flag.BoolVar(&opts.persist, "persist", false, "mirror cloud exports to Supabase storage")
	flag.Parse()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, "framecast:", err)
		os.Exit(2)
	}
	logger := logx.Setup(cfg.Log)

	if opts.composition == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn().Msg("export cancelled")
			os.Exit(130)
		}
		logger.Error().Err(err).Msg("export failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ClientConfig, opts options, logger zerolog.Logger) error {
	comp, err := config.LoadComposition(opts.composition)
	if err != nil {
		return err
	}
	exportCfg := models.MergeExportConfig(comp.Config)

	ffmpeg, err := services.NewFFmpegService(cfg.FFmpegPath, cfg.FFprobePath, filepath.Join(cfg.WorkDir, "tmp"))
	if err != nil {
		return err
	}

	if opts.align {
		if err := alignSubtitles(ctx, cfg, comp, opts.language); err != nil {
			return err
		}
	}

	font, err := compositor.LoadFont(cfg.FontPath)
	if err != nil {
		return err
	}

	deps := export.Deps{
		Audio:     ffmpeg,
		Frames:    ffmpeg,
		Font:      font,
		Cache:     media.NewCache(),
		Checksums: cfg.ChecksumWorkers,
	}

	var exporter export.Exporter
	switch opts.mode {
	case "local":
		exporter = export.NewLocalExporter(deps, ffmpeg, cfg.WorkDir)
	case "cloud":
		if cfg.RenderServerURL == "" {
			return fmt.Errorf("RENDER_SERVER_URL is required for cloud mode")
		}
		var persister export.Persister
		if opts.persist {
			if !cfg.PersistenceEnabled() {
				return fmt.Errorf("-persist needs SUPABASE_URL and SUPABASE_SERVICE_KEY")
			}
			persister = storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
		}
		exporter = export.NewCloudExporter(deps, remote.New(cfg.RenderServerURL, cfg.RenderAPIKey), persister, export.CloudOptions{
			BatchSize: cfg.BatchSize,
			JobWait:   time.Duration(cfg.JobWaitMinutes) * time.Minute,
			Persist:   opts.persist,
		})
	default:
		return fmt.Errorf("unknown mode %q (want local or cloud)", opts.mode)
	}

	start := time.Now()
	res, err := exporter.Export(ctx, comp, progressPrinter(logger), exportCfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(opts.out, res.File, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.out, err)
	}

	ev := logger.Info().Str("out", opts.out).Int("bytes", len(res.File)).Dur("elapsed", time.Since(start))
	if res.RemoteURL != "" {
		ev = ev.Str("url", res.RemoteURL)
	}
	ev.Msg("export written")

	if opts.assPath != "" && len(comp.Subtitles) > 0 {
		w, h := exportCfg.Dimensions()
		if err := services.GenerateASSSubtitles(comp.Subtitles, opts.assPath, w, h); err != nil {
			logger.Warn().Err(err).Msg("failed to write subtitle sidecar")
		}
	}
	return nil
}

// alignSubtitles transcribes the narration and fills word timing. A
// composition without cues gets cues built from the transcript.
func alignSubtitles(ctx context.Context, cfg *config.ClientConfig, comp *models.Composition, language string) error {
	if cfg.OpenAIKey == "" {
		return fmt.Errorf("-align needs OPENAI_API_KEY")
	}
	words, err := services.NewOpenAIService(cfg.OpenAIKey).TranscribeFile(ctx, comp.AudioPath, language)
	if err != nil {
		return fmt.Errorf("failed to align subtitles: %w", err)
	}
	if len(comp.Subtitles) == 0 {
		comp.Subtitles = services.CuesFromWords(words)
		return nil
	}
	comp.Subtitles = services.AlignCues(comp.Subtitles, words)
	return nil
}

// progressPrinter logs stage changes and every 5% within a stage.
func progressPrinter(logger zerolog.Logger) models.ProgressFunc {
	var stage models.Stage
	last := -1
	return func(p models.Progress) {
		step := int(p.Percent) / 5
		if p.Stage == stage && step == last {
			return
		}
		stage, last = p.Stage, step

		ev := logger.Info().Str("stage", string(p.Stage)).Str("percent", fmt.Sprintf("%.1f", p.Percent))
		if p.TotalFrames > 0 {
			ev = ev.Int("frame", p.CurrentFrame).Int("frames", p.TotalFrames)
		}
		ev.Msg(p.Message)
	}
}
