package media

import (
	"context"
	"fmt"
	"image"
	"os"

	// still decoders
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/rs/zerolog"

	"github.com/bobarin/framecast/internal/logx"
	"github.com/bobarin/framecast/internal/models"
)

// FrameExtractor decodes a video source into frames at a fixed rate,
// sized for a w x h canvas, reading at most maxSeconds.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, source string, fps, w, h int, maxSeconds float64) ([]image.Image, error)
}

// AssetFunc is notified before each asset is decoded.
type AssetFunc func(index int, kind models.AssetKind)

// Loader resolves composition asset sources into Media through the cache.
type Loader struct {
	cache     *Cache
	extractor FrameExtractor
	logger    zerolog.Logger
}

func NewLoader(cache *Cache, extractor FrameExtractor) *Loader {
	return &Loader{
		cache:     cache,
		extractor: extractor,
		logger:    logx.Component("media"),
	}
}

// Resolve fills Media on every asset that does not already carry one.
// duration is the composition length; it bounds how much of each video
// slot is decoded.
func (l *Loader) Resolve(ctx context.Context, assets []models.CompositionAsset, duration float64, fps, w, h int, onAsset AssetFunc) error {
	for i := range assets {
		a := &assets[i]
		if a.Media != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if onAsset != nil {
			onAsset(i, a.Kind)
		}

		if a.Kind == models.AssetKindVideo {
			span := videoSpan(a, slotDuration(assets, i, duration))
			if m, ok := l.cache.Video(a.Source, span); ok {
				a.Media = m
				continue
			}
			m, err := l.loadVideo(ctx, a, span, fps, w, h)
			if err != nil {
				return fmt.Errorf("failed to load asset %d (%s): %w", i, a.Source, err)
			}
			l.cache.StoreVideo(a.Source, m, span)
			a.Media = m
			continue
		}

		if m, ok := l.cache.Media(a.Source); ok {
			a.Media = m
			continue
		}
		m, err := loadStill(a.Source)
		if err != nil {
			return fmt.Errorf("failed to load asset %d (%s): %w", i, a.Source, err)
		}
		l.cache.StoreMedia(a.Source, m)
		a.Media = m
	}
	return nil
}

// videoSpan is how many seconds of a clip its slot can show: the slot,
// cut to the clip's native length when known.
func videoSpan(a *models.CompositionAsset, slot float64) float64 {
	if a.NativeDuration != nil && *a.NativeDuration > 0 && *a.NativeDuration < slot {
		return *a.NativeDuration
	}
	return slot
}

func (l *Loader) loadVideo(ctx context.Context, a *models.CompositionAsset, span float64, fps, w, h int) (models.Media, error) {
	if l.extractor == nil {
		return nil, fmt.Errorf("no frame extractor configured for video assets")
	}

	frames, err := l.extractor.ExtractFrames(ctx, a.Source, fps, w, h, span)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("video decoded to zero frames")
	}

	v := NewVideo(frames, float64(fps))
	if v.Duration() < span {
		l.logger.Debug().
			Str("source", a.Source).
			Float64("clip_seconds", v.Duration()).
			Float64("slot_seconds", span).
			Msg("clip shorter than slot, holding last frame")
	}
	return v, nil
}

func loadStill(path string) (models.Media, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return NewStill(img), nil
}

// slotDuration is how long asset i stays current.
func slotDuration(assets []models.CompositionAsset, i int, total float64) float64 {
	end := total
	if i+1 < len(assets) {
		end = assets[i+1].StartTime
	}
	if d := end - assets[i].StartTime; d > 0 {
		return d
	}
	return 0
}
