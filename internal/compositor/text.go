package compositor

import (
	"image"
	"image/color"
	"math"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/unicode/bidi"

	"github.com/bobarin/framecast/internal/models"
)

const minWordSpan = 0.1

var (
	ghostColor  = color.NRGBA{R: 255, G: 255, B: 255, A: 90}
	textColor   = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	shadowColor = color.NRGBA{A: 160}
)

// WordProgress returns the reveal progress of each word of cue at t. A cue
// without word timing is a single unit that is fully revealed from its
// start time.
func WordProgress(t float64, cue models.SubtitleCue) []float64 {
	if len(cue.Words) == 0 {
		if t >= cue.StartTime {
			return []float64{1}
		}
		return []float64{0}
	}

	out := make([]float64, len(cue.Words))
	for i, w := range cue.Words {
		out[i] = clamp01((t - w.StartTime) / math.Max(minWordSpan, w.EndTime-w.StartTime))
	}
	return out
}

// CueProgress is the progress of a cue revealed as one unit. With word
// reveal disabled the cue wipes in over the configured reveal duration.
func CueProgress(t float64, cue models.SubtitleCue, anim models.TextAnimationConfig) float64 {
	if len(cue.Words) == 0 {
		return WordProgress(t, cue)[0]
	}
	return clamp01((t - cue.StartTime) / math.Max(minWordSpan, anim.RevealDurationSeconds))
}

// IsRTL reports whether the first strongly directional rune is
// right-to-left.
func IsRTL(text string) bool {
	for _, r := range text {
		p, _ := bidi.LookupRune(r)
		switch p.Class() {
		case bidi.R, bidi.AL:
			return true
		case bidi.L:
			return false
		}
	}
	return false
}

// ResolveDirection forces plain ltr/rtl reveals to rtl for right-to-left
// text. Center variants are kept.
func ResolveDirection(dir models.RevealDirection, rtl bool) models.RevealDirection {
	if rtl && (dir == models.RevealLTR || dir == models.RevealRTL) {
		return models.RevealRTL
	}
	return dir
}

// RevealSpan returns the revealed horizontal span [a, b) of a box starting
// at x0 with the given width.
func RevealSpan(x0, width int, progress float64, dir models.RevealDirection) (int, int) {
	p := clamp01(progress)
	switch dir {
	case models.RevealRTL:
		return x0 + width - round(float64(width)*p), x0 + width
	case models.RevealCenterOut:
		half := round(float64(width) * p / 2)
		cx := x0 + width/2
		return cx - half, cx + half
	case models.RevealCenterIn:
		w := round(float64(width) * (1 - p))
		cx := x0 + width/2
		return cx - w/2, cx - w/2 + w
	default:
		return x0, x0 + round(float64(width)*p)
	}
}

type placedWord struct {
	text     string
	line     int
	rect     image.Rectangle
	baseline fixed.Point26_6
}

// TextRenderer draws ghost and revealed subtitle passes.
type TextRenderer struct {
	faces *faceCache
}

// RenderText draws text as one unit per line with the given progress.
func (r *TextRenderer) RenderText(dst *image.RGBA, zone image.Rectangle, size int, text string, progress float64, dir models.RevealDirection, rtl, modern bool) error {
	face, err := r.faces.face(size)
	if err != nil {
		return err
	}
	words := layoutWords(face, strings.Fields(text), zone, rtl)
	drawGhost(dst, face, words)
	for _, unit := range lineUnits(words) {
		drawRevealed(dst, face, unit, progress, ResolveDirection(dir, rtl), modern)
	}
	return nil
}

// DrawCue renders cue at t into zone, word by word when word timing exists
// and word reveal is enabled.
func (r *TextRenderer) DrawCue(dst *image.RGBA, zone image.Rectangle, size int, cue models.SubtitleCue, t float64, anim models.TextAnimationConfig, modern bool) error {
	rtl := IsRTL(cue.Text)
	if len(cue.Words) == 0 || !anim.WordReveal {
		return r.RenderText(dst, zone, size, cue.Text, CueProgress(t, cue, anim), anim.RevealDirection, rtl, modern)
	}

	face, err := r.faces.face(size)
	if err != nil {
		return err
	}

	texts := make([]string, len(cue.Words))
	for i, w := range cue.Words {
		texts[i] = w.Word
	}
	progress := WordProgress(t, cue)
	dir := ResolveDirection(anim.RevealDirection, rtl)

	words := layoutWords(face, texts, zone, rtl)
	drawGhost(dst, face, words)
	for i, w := range words {
		drawRevealed(dst, face, []placedWord{w}, progress[i], dir, modern)
	}
	return nil
}

// layoutWords wraps words greedily into centered lines, vertically
// centered in zone. For rtl text the first word sits at the right.
func layoutWords(face font.Face, words []string, zone image.Rectangle, rtl bool) []placedWord {
	if len(words) == 0 {
		return nil
	}

	metrics := face.Metrics()
	lineH := metrics.Height.Ceil()
	ascent := metrics.Ascent.Ceil()
	space := font.MeasureString(face, " ").Ceil()

	type line struct {
		words  []int
		widths []int
		width  int
	}
	var lines []line
	cur := line{}
	for i, w := range words {
		ww := font.MeasureString(face, visualWord(w, rtl)).Ceil()
		next := cur.width + ww
		if len(cur.words) > 0 {
			next += space
		}
		if len(cur.words) > 0 && next > zone.Dx() {
			lines = append(lines, cur)
			cur = line{}
			next = ww
		}
		cur.words = append(cur.words, i)
		cur.widths = append(cur.widths, ww)
		cur.width = next
	}
	lines = append(lines, cur)

	top := zone.Min.Y + (zone.Dy()-lineH*len(lines))/2
	cx := zone.Min.X + zone.Dx()/2

	out := make([]placedWord, len(words))
	for li, ln := range lines {
		y := top + li*lineH
		x := cx - ln.width/2
		if rtl {
			x = cx + ln.width/2
		}
		for k, wi := range ln.words {
			ww := ln.widths[k]
			if rtl {
				x -= ww
			}
			out[wi] = placedWord{
				text:     visualWord(words[wi], rtl),
				line:     li,
				rect:     image.Rect(x, y, x+ww, y+lineH),
				baseline: fixed.P(x, y+ascent),
			}
			if rtl {
				x -= space
			} else {
				x += ww + space
			}
		}
	}
	return out
}

// lineUnits groups placed words by line.
func lineUnits(words []placedWord) [][]placedWord {
	var units [][]placedWord
	for _, w := range words {
		if len(units) == 0 || units[len(units)-1][0].line != w.line {
			units = append(units, nil)
		}
		units[len(units)-1] = append(units[len(units)-1], w)
	}
	return units
}

func drawGhost(dst *image.RGBA, face font.Face, words []placedWord) {
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(ghostColor), Face: face}
	for _, w := range words {
		d.Dot = w.baseline
		d.DrawString(w.text)
	}
}

func drawRevealed(dst *image.RGBA, face font.Face, unit []placedWord, progress float64, dir models.RevealDirection, modern bool) {
	if len(unit) == 0 {
		return
	}
	box := unit[0].rect
	for _, w := range unit[1:] {
		box = box.Union(w.rect)
	}

	a, b := RevealSpan(box.Min.X, box.Dx(), progress, dir)
	if b <= a {
		return
	}
	pad := box.Dy() / 4
	clip := image.Rect(a, box.Min.Y-pad, b, box.Max.Y+pad).Intersect(dst.Bounds())
	if clip.Empty() {
		return
	}
	sub := dst.SubImage(clip).(*image.RGBA)

	if modern {
		off := fixed.P(2, 2)
		d := &font.Drawer{Dst: sub, Src: image.NewUniform(shadowColor), Face: face}
		for _, w := range unit {
			d.Dot = w.baseline.Add(off)
			d.DrawString(w.text)
		}
	}

	d := &font.Drawer{Dst: sub, Src: image.NewUniform(textColor), Face: face}
	for _, w := range unit {
		d.Dot = w.baseline
		d.DrawString(w.text)
	}
}

// visualWord reverses the rune order of a right-to-left word. No contextual
// shaping is applied.
func visualWord(s string, rtl bool) string {
	if !rtl {
		return s
	}
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func round(x float64) int {
	return int(math.Round(x))
}
