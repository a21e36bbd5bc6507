package models

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

type Orientation string

const (
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
	OrientationSquare    Orientation = "square"
)

type TransitionType string

const (
	TransitionNone      TransitionType = "none"
	TransitionCrossfade TransitionType = "crossfade"
	TransitionFade      TransitionType = "fade"
	TransitionSlide     TransitionType = "slide"
	TransitionZoom      TransitionType = "zoom"
)

type ColorScheme string

const (
	ColorSchemeDualTone     ColorScheme = "dual-tone"
	ColorSchemeFullSpectrum ColorScheme = "full-spectrum"
	ColorSchemeMonochrome   ColorScheme = "monochrome"
)

type RevealDirection string

const (
	RevealLTR       RevealDirection = "ltr"
	RevealRTL       RevealDirection = "rtl"
	RevealCenterOut RevealDirection = "center-out"
	RevealCenterIn  RevealDirection = "center-in"
)

type ContentMode string

const (
	ContentModeCover   ContentMode = "cover"   // full-bleed background
	ContentModeContain ContentMode = "contain" // fit-centered standalone image
)

type FrameFormat string

const (
	FrameFormatJPEG FrameFormat = "jpeg"
	FrameFormatPNG  FrameFormat = "png"
	FrameFormatWebP FrameFormat = "webp"
)

type TransitionConfig struct {
	Type            TransitionType `json:"type" yaml:"type"`
	DurationSeconds float64        `json:"duration_seconds" yaml:"duration_seconds"`
}

type VisualizerConfig struct {
	Enabled        bool        `json:"enabled" yaml:"enabled"`
	Opacity        float64     `json:"opacity" yaml:"opacity"`
	MaxHeightRatio float64     `json:"max_height_ratio" yaml:"max_height_ratio"`
	BarWidth       int         `json:"bar_width" yaml:"bar_width"`
	BarGap         int         `json:"bar_gap" yaml:"bar_gap"`
	ColorScheme    ColorScheme `json:"color_scheme" yaml:"color_scheme"`
}

type TextAnimationConfig struct {
	RevealDirection       RevealDirection `json:"reveal_direction" yaml:"reveal_direction"`
	RevealDurationSeconds float64         `json:"reveal_duration_seconds" yaml:"reveal_duration_seconds"`
	WordReveal            bool            `json:"word_reveal" yaml:"word_reveal"`
}

// ExportConfig is resolved once per export via MergeExportConfig.
type ExportConfig struct {
	Orientation      Orientation         `json:"orientation" yaml:"orientation"`
	UseModernEffects bool                `json:"use_modern_effects" yaml:"use_modern_effects"`
	Transition       TransitionConfig    `json:"transition" yaml:"transition"`
	Visualizer       VisualizerConfig    `json:"visualizer" yaml:"visualizer"`
	TextAnimation    TextAnimationConfig `json:"text_animation" yaml:"text_animation"`
	ContentMode      ContentMode         `json:"content_mode" yaml:"content_mode"`
	FPS              int                 `json:"fps" yaml:"fps"`
	Resolution       int                 `json:"resolution" yaml:"resolution"` // shorter edge in px
	BackgroundColor  string              `json:"background_color" yaml:"background_color"`
	FrameFormat      FrameFormat         `json:"frame_format" yaml:"frame_format"`
}

// DefaultExportConfig returns the defaults every patch is merged onto.
func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		Orientation:      OrientationPortrait,
		UseModernEffects: true,
		Transition: TransitionConfig{
			Type:            TransitionCrossfade,
			DurationSeconds: 0.5,
		},
		Visualizer: VisualizerConfig{
			Enabled:        false,
			Opacity:        0.8,
			MaxHeightRatio: 0.15,
			BarWidth:       6,
			BarGap:         3,
			ColorScheme:    ColorSchemeDualTone,
		},
		TextAnimation: TextAnimationConfig{
			RevealDirection:       RevealLTR,
			RevealDurationSeconds: 0.6,
			WordReveal:            true,
		},
		ContentMode:     ContentModeCover,
		FPS:             30,
		Resolution:      1080,
		BackgroundColor: "#000000",
		FrameFormat:     FrameFormatJPEG,
	}
}

// Patches: nil pointers inherit the default.

type VisualizerPatch struct {
	Enabled        *bool        `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Opacity        *float64     `json:"opacity,omitempty" yaml:"opacity,omitempty"`
	MaxHeightRatio *float64     `json:"max_height_ratio,omitempty" yaml:"max_height_ratio,omitempty"`
	BarWidth       *int         `json:"bar_width,omitempty" yaml:"bar_width,omitempty"`
	BarGap         *int         `json:"bar_gap,omitempty" yaml:"bar_gap,omitempty"`
	ColorScheme    *ColorScheme `json:"color_scheme,omitempty" yaml:"color_scheme,omitempty"`
}

type TextAnimationPatch struct {
	RevealDirection       *RevealDirection `json:"reveal_direction,omitempty" yaml:"reveal_direction,omitempty"`
	RevealDurationSeconds *float64         `json:"reveal_duration_seconds,omitempty" yaml:"reveal_duration_seconds,omitempty"`
	WordReveal            *bool            `json:"word_reveal,omitempty" yaml:"word_reveal,omitempty"`
}

type ExportConfigPatch struct {
	Orientation      *Orientation        `json:"orientation,omitempty" yaml:"orientation,omitempty"`
	UseModernEffects *bool               `json:"use_modern_effects,omitempty" yaml:"use_modern_effects,omitempty"`
	Transition       *TransitionConfig   `json:"transition,omitempty" yaml:"transition,omitempty"`
	Visualizer       *VisualizerPatch    `json:"visualizer,omitempty" yaml:"visualizer,omitempty"`
	TextAnimation    *TextAnimationPatch `json:"text_animation,omitempty" yaml:"text_animation,omitempty"`
	ContentMode      *ContentMode        `json:"content_mode,omitempty" yaml:"content_mode,omitempty"`
	FPS              *int                `json:"fps,omitempty" yaml:"fps,omitempty"`
	Resolution       *int                `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	BackgroundColor  *string             `json:"background_color,omitempty" yaml:"background_color,omitempty"`
	FrameFormat      *FrameFormat        `json:"frame_format,omitempty" yaml:"frame_format,omitempty"`
}

// MergeExportConfig applies a patch onto the defaults. Top-level fields are
// replaced shallowly (a transition patch replaces the whole transition);
// visualizer and text animation merge field by field.
func MergeExportConfig(p *ExportConfigPatch) ExportConfig {
	cfg := DefaultExportConfig()
	if p == nil {
		return cfg
	}

	if p.Orientation != nil {
		cfg.Orientation = *p.Orientation
	}
	if p.UseModernEffects != nil {
		cfg.UseModernEffects = *p.UseModernEffects
	}
	if p.Transition != nil {
		cfg.Transition = *p.Transition
	}
	if p.ContentMode != nil {
		cfg.ContentMode = *p.ContentMode
	}
	if p.FPS != nil {
		cfg.FPS = *p.FPS
	}
	if p.Resolution != nil {
		cfg.Resolution = *p.Resolution
	}
	if p.BackgroundColor != nil {
		cfg.BackgroundColor = *p.BackgroundColor
	}
	if p.FrameFormat != nil {
		cfg.FrameFormat = *p.FrameFormat
	}

	if v := p.Visualizer; v != nil {
		if v.Enabled != nil {
			cfg.Visualizer.Enabled = *v.Enabled
		}
		if v.Opacity != nil {
			cfg.Visualizer.Opacity = *v.Opacity
		}
		if v.MaxHeightRatio != nil {
			cfg.Visualizer.MaxHeightRatio = *v.MaxHeightRatio
		}
		if v.BarWidth != nil {
			cfg.Visualizer.BarWidth = *v.BarWidth
		}
		if v.BarGap != nil {
			cfg.Visualizer.BarGap = *v.BarGap
		}
		if v.ColorScheme != nil {
			cfg.Visualizer.ColorScheme = *v.ColorScheme
		}
	}

	if t := p.TextAnimation; t != nil {
		if t.RevealDirection != nil {
			cfg.TextAnimation.RevealDirection = *t.RevealDirection
		}
		if t.RevealDurationSeconds != nil {
			cfg.TextAnimation.RevealDurationSeconds = *t.RevealDurationSeconds
		}
		if t.WordReveal != nil {
			cfg.TextAnimation.WordReveal = *t.WordReveal
		}
	}

	return cfg
}

// Validate rejects configurations the renderer cannot honor.
func (c ExportConfig) Validate() error {
	switch c.Orientation {
	case OrientationPortrait, OrientationLandscape, OrientationSquare:
	default:
		return fmt.Errorf("unknown orientation %q", c.Orientation)
	}
	switch c.ContentMode {
	case ContentModeCover, ContentModeContain:
	default:
		return fmt.Errorf("unknown content mode %q", c.ContentMode)
	}
	switch c.FrameFormat {
	case FrameFormatJPEG, FrameFormatPNG, FrameFormatWebP:
	default:
		return fmt.Errorf("unknown frame format %q", c.FrameFormat)
	}
	if c.FPS <= 0 || c.FPS > 120 {
		return fmt.Errorf("fps must be in 1..120, got %d", c.FPS)
	}
	if c.Resolution < 64 {
		return fmt.Errorf("resolution too small: %d", c.Resolution)
	}
	if c.Visualizer.Opacity < 0 || c.Visualizer.Opacity > 1 {
		return fmt.Errorf("visualizer opacity must be in [0,1]")
	}
	if _, err := ParseHexColor(c.BackgroundColor); err != nil {
		return err
	}
	return nil
}

// Dimensions returns the even output width and height for the orientation.
func (c ExportConfig) Dimensions() (int, int) {
	short := even(c.Resolution)
	long := even(c.Resolution * 16 / 9)
	switch c.Orientation {
	case OrientationLandscape:
		return long, short
	case OrientationSquare:
		return short, short
	default:
		return short, long
	}
}

// Background returns the parsed background fill, black when invalid.
func (c ExportConfig) Background() color.RGBA {
	col, err := ParseHexColor(c.BackgroundColor)
	if err != nil {
		return color.RGBA{A: 255}
	}
	return col
}

// ParseHexColor parses "#rrggbb" or "#rgb".
func ParseHexColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

func even(x int) int {
	if x%2 == 0 {
		return x
	}
	return x + 1
}
