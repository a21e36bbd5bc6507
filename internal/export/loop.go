package export

import (
	"context"
	"fmt"
	"image"

	"github.com/bobarin/framecast/internal/compositor"
	"github.com/bobarin/framecast/internal/models"
)

// FrameSink consumes encoded frames in index order.
type FrameSink interface {
	// WriteFrame takes ownership of data.
	WriteFrame(ctx context.Context, index int, data []byte) error
	// Flush is called once after the last frame.
	Flush(ctx context.Context) error
}

// FrameEvent describes a frame that has reached the sink.
type FrameEvent struct {
	Index     int
	Total     int
	AssetKind models.AssetKind
}

// renderLoop renders every frame of a prepared export sequentially on one
// surface and hands the encoded still to a sink.
type renderLoop struct {
	comp *compositor.Compositor
	enc  FrameEncoder
	prep *prepared
}

func (l *renderLoop) run(ctx context.Context, sink FrameSink, onFrame func(FrameEvent)) error {
	p := l.prep
	surface := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	resolver := compositor.NewAssetResolver(p.assets, p.cfg.Transition.DurationSeconds)

	var prevFreq []byte
	for i := 0; i < p.totalFrames; i++ {
		// the only cancellation point
		if err := ctx.Err(); err != nil {
			return err
		}

		t := float64(i) / float64(p.cfg.FPS)
		var freq []byte
		if p.freq != nil {
			freq = p.freq.Snapshot(i)
		}

		if err := l.comp.RenderFrame(surface, p.width, p.height, t, p.assets, p.cues, freq, prevFreq, p.cfg); err != nil {
			return fmt.Errorf("failed to render frame %d: %w", i, err)
		}
		data, err := l.enc.Encode(surface)
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		if err := sink.WriteFrame(ctx, i, data); err != nil {
			return err
		}
		prevFreq = freq

		if onFrame != nil {
			ev := FrameEvent{Index: i, Total: p.totalFrames}
			if cur := resolver.ActiveAsset(t).Current; cur != nil {
				ev.AssetKind = cur.Kind
			}
			onFrame(ev)
		}
	}

	return sink.Flush(ctx)
}

// renderingProgress builds the progress event for a frame mapped into
// [lo, hi].
func renderingProgress(ev FrameEvent, lo, hi float64) models.Progress {
	return models.Progress{
		Stage:            models.StageRendering,
		Percent:          band(lo, hi, float64(ev.Index+1)/float64(max(1, ev.Total))),
		Message:          fmt.Sprintf("Rendering frame %d of %d", ev.Index+1, ev.Total),
		CurrentFrame:     ev.Index + 1,
		TotalFrames:      ev.Total,
		CurrentAssetType: ev.AssetKind,
		IsSeekingVideo:   ev.AssetKind == models.AssetKindVideo,
	}
}
