package compositor

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/bobarin/framecast/internal/models"
)

const glowSpread = 3

// SmoothSpectrum averages the current snapshot with the previous one.
func SmoothSpectrum(cur, prev []byte) []float64 {
	out := make([]float64, len(cur))
	for i, v := range cur {
		if i < len(prev) {
			out[i] = (float64(v) + float64(prev[i])) / 2
		} else {
			out[i] = float64(v)
		}
	}
	return out
}

// BarHeight maps a smoothed magnitude onto the zone.
func BarHeight(v float64, zoneH, canvasH int, maxHeightRatio float64) int {
	limit := math.Min(float64(zoneH), float64(canvasH)*maxHeightRatio)
	return round(v / 255 * limit)
}

// DrawVisualizer draws mirrored bars about the zone's horizontal center,
// bottom-anchored. Nothing is drawn outside zone.
func DrawVisualizer(dst *image.RGBA, zone image.Rectangle, canvasH int, cur, prev []byte, cfg models.VisualizerConfig, modern bool) {
	zone = zone.Intersect(dst.Bounds())
	if zone.Empty() || len(cur) == 0 || cfg.BarWidth <= 0 {
		return
	}
	clip := dst.SubImage(zone).(*image.RGBA)

	smoothed := SmoothSpectrum(cur, prev)
	step := cfg.BarWidth + max(cfg.BarGap, 0)
	maxBars := (zone.Dx() / 2) / step
	n := min(len(smoothed), maxBars)
	if n == 0 {
		return
	}

	alpha := uint8(math.Round(clamp01(cfg.Opacity) * 255))
	glowAlpha := uint8(math.Round(clamp01(cfg.Opacity) * 0.3 * 255))
	cx := zone.Min.X + zone.Dx()/2
	halfGap := max(cfg.BarGap, 0) / 2

	for i := 0; i < n; i++ {
		h := BarHeight(smoothed[i], zone.Dy(), canvasH, cfg.MaxHeightRatio)
		if h <= 0 {
			continue
		}
		col := gradientAt(cfg.ColorScheme, float64(i)/math.Max(1, float64(n-1)))

		top := zone.Max.Y - h
		right := image.Rect(cx+halfGap+i*step, top, cx+halfGap+i*step+cfg.BarWidth, zone.Max.Y)
		left := image.Rect(cx-halfGap-i*step-cfg.BarWidth, top, cx-halfGap-i*step, zone.Max.Y)

		for _, bar := range []image.Rectangle{left, right} {
			if modern {
				fillRect(clip, bar.Inset(-glowSpread), col, glowAlpha)
			}
			fillRect(clip, bar, col, alpha)
		}
	}
}

func fillRect(dst *image.RGBA, r image.Rectangle, c color.RGBA, alpha uint8) {
	if alpha == 0 {
		return
	}
	src := image.NewUniform(color.NRGBA{R: c.R, G: c.G, B: c.B, A: alpha})
	draw.Draw(dst, r, src, image.Point{}, draw.Over)
}

var (
	dualToneStart = color.RGBA{R: 0, G: 229, B: 255, A: 255}
	dualToneEnd   = color.RGBA{R: 255, G: 0, B: 170, A: 255}
	monoStart     = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	monoEnd       = color.RGBA{R: 150, G: 150, B: 150, A: 255}
)

// gradientAt samples a color scheme at position p in [0,1].
func gradientAt(scheme models.ColorScheme, p float64) color.RGBA {
	switch scheme {
	case models.ColorSchemeFullSpectrum:
		return hsv(p*0.85*360, 0.9, 1)
	case models.ColorSchemeMonochrome:
		return lerpColor(monoStart, monoEnd, p)
	default:
		return lerpColor(dualToneStart, dualToneEnd, p)
	}
}

func lerpColor(a, b color.RGBA, p float64) color.RGBA {
	l := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*p))
	}
	return color.RGBA{R: l(a.R, b.R), G: l(a.G, b.G), B: l(a.B, b.B), A: 255}
}

func hsv(h, s, v float64) color.RGBA {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	to := func(f float64) uint8 { return uint8(math.Round((f + m) * 255)) }
	return color.RGBA{R: to(r), G: to(g), B: to(b), A: 255}
}
