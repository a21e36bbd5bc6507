// Package export renders compositions to video, either locally through
// ffmpeg or by streaming frames to a render server.
package export

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/image/font/opentype"

	"github.com/bobarin/framecast/internal/audio"
	"github.com/bobarin/framecast/internal/compositor"
	"github.com/bobarin/framecast/internal/media"
	"github.com/bobarin/framecast/internal/models"
)

var (
	// ErrAudioMissing is returned before rendering when the narration track
	// is absent, empty or undecodable.
	ErrAudioMissing = errors.New("audio track is missing or empty")

	// ErrJobTimeout is returned when a remote job never reports completion
	// within the wait bound.
	ErrJobTimeout = errors.New("export job did not complete in time")
)

// Result is the exported video and, when persisted, its public URL.
type Result struct {
	File      []byte
	RemoteURL string
}

type Exporter interface {
	Export(ctx context.Context, comp *models.Composition, onProgress models.ProgressFunc, cfg models.ExportConfig) (*Result, error)
}

// AudioDecoder is the audio collaborator. Durations are in milliseconds.
type AudioDecoder interface {
	GetAudioDuration(ctx context.Context, audioPath string) (int, error)
	DecodePCM(ctx context.Context, audioPath string, sampleRate int) ([]float32, error)
}

// Deps are the collaborators shared by both orchestrators.
type Deps struct {
	Audio     AudioDecoder
	Frames    media.FrameExtractor
	Font      *opentype.Font
	Cache     *media.Cache
	FreqBins  int
	Checksums int // hashing pool size
}

func (d Deps) cache() *media.Cache {
	if d.Cache == nil {
		return media.NewCache()
	}
	return d.Cache
}

// prepared is everything the render loop needs, resolved once per export.
type prepared struct {
	cfg         models.ExportConfig
	width       int
	height      int
	duration    float64
	totalFrames int
	assets      []models.CompositionAsset
	cues        []models.SubtitleCue
	freq        audio.FrequencySource
}

// prepare validates inputs, decodes the audio and resolves media. It runs
// entirely in the preparing stage.
func prepare(ctx context.Context, deps Deps, cache *media.Cache, comp *models.Composition, cfg models.ExportConfig, tr *Tracker) (*prepared, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid export config: %w", err)
	}
	if comp == nil {
		return nil, fmt.Errorf("composition is required")
	}

	work := *comp
	work.Assets = append([]models.CompositionAsset(nil), comp.Assets...)
	work.Normalize()
	if err := work.Validate(); err != nil {
		return nil, fmt.Errorf("invalid composition: %w", err)
	}

	tr.Stage(models.StagePreparing, 0, "Decoding audio")
	duration, err := decodeDuration(ctx, deps.Audio, work.AudioPath)
	if err != nil {
		return nil, err
	}

	w, h := cfg.Dimensions()
	p := &prepared{
		cfg:         cfg,
		width:       w,
		height:      h,
		duration:    duration,
		totalFrames: audio.TotalFrames(duration, cfg.FPS),
		assets:      work.Assets,
		cues:        work.Subtitles,
	}

	if cfg.Visualizer.Enabled {
		pcm, err := deps.Audio.DecodePCM(ctx, work.AudioPath, audio.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAudioMissing, err)
		}
		p.freq = audio.NewSampler(pcm, audio.SampleRate, cfg.FPS, deps.FreqBins)
	}

	loader := media.NewLoader(cache, deps.Frames)
	err = loader.Resolve(ctx, p.assets, duration, cfg.FPS, w, h, func(i int, kind models.AssetKind) {
		tr.Report(models.Progress{
			Stage:            models.StagePreparing,
			Message:          fmt.Sprintf("Loading asset %d of %d", i+1, len(p.assets)),
			CurrentAssetType: kind,
			IsSeekingVideo:   kind == models.AssetKindVideo,
		})
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

func decodeDuration(ctx context.Context, dec AudioDecoder, path string) (float64, error) {
	if path == "" {
		return 0, ErrAudioMissing
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAudioMissing, err)
	}
	if fi.Size() == 0 {
		return 0, fmt.Errorf("%w: %s is empty", ErrAudioMissing, path)
	}

	ms, err := dec.GetAudioDuration(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAudioMissing, err)
	}
	if ms <= 0 {
		return 0, fmt.Errorf("%w: zero duration", ErrAudioMissing)
	}
	return float64(ms) / 1000, nil
}

func newCompositor(deps Deps, cache *media.Cache) (*compositor.Compositor, error) {
	f := deps.Font
	if f == nil {
		var err error
		if f, err = compositor.LoadFont(""); err != nil {
			return nil, err
		}
	}
	return compositor.New(cache, f), nil
}

// NewExportID returns a sortable id for log correlation.
func NewExportID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
