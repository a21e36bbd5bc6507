// Package compositor turns a composition and a point in time into pixels.
//
// RenderFrame depends only on its arguments, so frames can be rendered in
// any order and the local and remote export paths produce identical
// output for the same model.
package compositor

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font/opentype"

	"github.com/bobarin/framecast/internal/media"
	"github.com/bobarin/framecast/internal/models"
)

const zoomStartScale = 1.1

// Compositor owns the font faces and scaled-media cache of one render loop.
// It must not be shared between concurrent exports.
type Compositor struct {
	cache *media.Cache
	text  *TextRenderer
}

func New(cache *media.Cache, f *opentype.Font) *Compositor {
	return &Compositor{
		cache: cache,
		text:  &TextRenderer{faces: newFaceCache(f)},
	}
}

// Close releases font faces.
func (c *Compositor) Close() {
	c.text.faces.close()
}

// RenderFrame overwrites every pixel of surface with the frame at t:
// background, blended asset, visualizer, then active subtitle cues.
func (c *Compositor) RenderFrame(
	surface *image.RGBA,
	w, h int,
	t float64,
	assets []models.CompositionAsset,
	cues []models.SubtitleCue,
	freq, prevFreq []byte,
	cfg models.ExportConfig,
) error {
	if surface == nil || surface.Bounds() != image.Rect(0, 0, w, h) {
		return fmt.Errorf("surface must be %dx%d", w, h)
	}

	// 1. background
	draw.Draw(surface, surface.Bounds(), image.NewUniform(cfg.Background()), image.Point{}, draw.Src)

	// 2. asset
	res := NewAssetResolver(assets, cfg.Transition.DurationSeconds).ActiveAsset(t)
	if res.Current != nil {
		if res.InTransition() && cfg.Transition.Type != models.TransitionNone {
			c.drawTransition(surface, res, t, cfg)
		} else {
			c.drawAsset(surface, res.Current, t, cfg.ContentMode, image.Point{}, 1)
		}
	}

	layout := ComputeLayout(w, h)

	// 3. visualizer
	if cfg.Visualizer.Enabled && len(freq) > 0 {
		DrawVisualizer(surface, layout.Visualizer, h, freq, prevFreq, cfg.Visualizer, cfg.UseModernEffects)
	}

	// 4. subtitles
	var active []models.SubtitleCue
	for _, cue := range cues {
		if cue.Active(t) {
			active = append(active, cue)
		}
	}
	if len(active) == 0 {
		return nil
	}

	size := FontSize(w, h)
	band := layout.Subtitle.Dy() / len(active)
	for i, cue := range active {
		zone := layout.Subtitle
		zone.Min.Y = layout.Subtitle.Min.Y + i*band
		zone.Max.Y = zone.Min.Y + band
		if err := c.text.DrawCue(surface, zone, size, cue, t, cfg.TextAnimation, cfg.UseModernEffects); err != nil {
			return fmt.Errorf("failed to draw cue %q: %w", cue.ID, err)
		}
	}
	return nil
}

// FontSize is the subtitle pixel size for a canvas.
func FontSize(w, h int) int {
	return max(12, min(w, h)*6/100)
}

func (c *Compositor) drawTransition(dst *image.RGBA, res Resolution, t float64, cfg models.ExportConfig) {
	b := res.Blend
	w := dst.Bounds().Dx()
	mode := cfg.ContentMode

	switch cfg.Transition.Type {
	case models.TransitionFade:
		// through the background
		if b < 0.5 {
			c.drawAsset(dst, res.Previous, t, mode, image.Point{}, 1-2*b)
		} else {
			c.drawAsset(dst, res.Current, t, mode, image.Point{}, 2*b-1)
		}
	case models.TransitionSlide:
		c.drawAsset(dst, res.Previous, t, mode, image.Pt(-round(b*float64(w)), 0), 1)
		c.drawAsset(dst, res.Current, t, mode, image.Pt(round((1-b)*float64(w)), 0), 1)
	case models.TransitionZoom:
		c.drawAsset(dst, res.Previous, t, mode, image.Point{}, 1)
		c.drawZoomed(dst, res.Current, t, mode, zoomStartScale-(zoomStartScale-1)*b, b)
	default:
		c.drawAsset(dst, res.Previous, t, mode, image.Point{}, 1)
		c.drawAsset(dst, res.Current, t, mode, image.Point{}, b)
	}
}

// layer returns the scaled frame of a at t and its canvas position.
func (c *Compositor) layer(dst *image.RGBA, a *models.CompositionAsset, t float64, mode models.ContentMode) (*image.RGBA, image.Point) {
	if a == nil || a.Media == nil {
		return nil, image.Point{}
	}
	frame := a.Media.FrameAt(t - a.StartTime)
	if frame == nil {
		return nil, image.Point{}
	}

	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	var img *image.RGBA
	if _, ok := a.Media.(*media.VideoMedia); ok {
		img = c.cache.ScaledFrame(a, frame, w, h, mode)
	} else {
		img = c.cache.Scaled(frame, w, h, mode)
	}
	pos := image.Point{}
	if mode == models.ContentModeContain {
		pos = image.Pt((w-img.Bounds().Dx())/2, (h-img.Bounds().Dy())/2)
	}
	return img, pos
}

func (c *Compositor) drawAsset(dst *image.RGBA, a *models.CompositionAsset, t float64, mode models.ContentMode, offset image.Point, alpha float64) {
	img, pos := c.layer(dst, a, t, mode)
	if img == nil || alpha <= 0 {
		return
	}
	r := img.Bounds().Add(pos).Add(offset)
	if alpha >= 1 {
		draw.Draw(dst, r, img, image.Point{}, draw.Over)
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(round(alpha * 255))})
	draw.DrawMask(dst, r, img, image.Point{}, mask, image.Point{}, draw.Over)
}

func (c *Compositor) drawZoomed(dst *image.RGBA, a *models.CompositionAsset, t float64, mode models.ContentMode, scale, alpha float64) {
	img, pos := c.layer(dst, a, t, mode)
	if img == nil || alpha <= 0 {
		return
	}
	b := img.Bounds()
	sw, sh := round(float64(b.Dx())*scale), round(float64(b.Dy())*scale)
	cx, cy := pos.X+b.Dx()/2, pos.Y+b.Dy()/2
	r := image.Rect(cx-sw/2, cy-sh/2, cx-sw/2+sw, cy-sh/2+sh)

	opts := &xdraw.Options{DstMask: image.NewUniform(color.Alpha{A: uint8(round(clamp01(alpha) * 255))})}
	xdraw.ApproxBiLinear.Scale(dst, r, img, b, xdraw.Over, opts)
}
