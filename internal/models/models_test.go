package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMergeExportConfig_VisualizerOpacityOnly(t *testing.T) {
	opacity := 0.9
	cfg := MergeExportConfig(&ExportConfigPatch{
		Visualizer: &VisualizerPatch{Opacity: &opacity},
	})

	def := DefaultExportConfig()
	assert.Equal(t, 0.9, cfg.Visualizer.Opacity)

	// every other visualizer field keeps its default
	want := def.Visualizer
	want.Opacity = 0.9
	assert.Equal(t, want, cfg.Visualizer)

	// every other top-level field keeps its default
	cfg.Visualizer = def.Visualizer
	assert.Equal(t, def, cfg)
}

func TestMergeExportConfig_Nil(t *testing.T) {
	assert.Equal(t, DefaultExportConfig(), MergeExportConfig(nil))
}

func TestMergeExportConfig_TransitionReplacedWholesale(t *testing.T) {
	cfg := MergeExportConfig(&ExportConfigPatch{
		Transition: &TransitionConfig{Type: TransitionSlide},
	})
	assert.Equal(t, TransitionSlide, cfg.Transition.Type)
	assert.Zero(t, cfg.Transition.DurationSeconds)
}

func TestMergeExportConfig_TextAnimationOneLevelDeep(t *testing.T) {
	dir := RevealCenterOut
	cfg := MergeExportConfig(&ExportConfigPatch{
		TextAnimation: &TextAnimationPatch{RevealDirection: &dir},
	})
	def := DefaultExportConfig()
	assert.Equal(t, RevealCenterOut, cfg.TextAnimation.RevealDirection)
	assert.Equal(t, def.TextAnimation.RevealDurationSeconds, cfg.TextAnimation.RevealDurationSeconds)
	assert.Equal(t, def.TextAnimation.WordReveal, cfg.TextAnimation.WordReveal)
}

func TestExportConfigPatch_FromYAML(t *testing.T) {
	doc := `
orientation: landscape
visualizer:
  enabled: true
  color_scheme: monochrome
text_animation:
  word_reveal: false
`
	var p ExportConfigPatch
	require.NoError(t, yaml.Unmarshal([]byte(doc), &p))

	cfg := MergeExportConfig(&p)
	assert.Equal(t, OrientationLandscape, cfg.Orientation)
	assert.True(t, cfg.Visualizer.Enabled)
	assert.Equal(t, ColorSchemeMonochrome, cfg.Visualizer.ColorScheme)
	assert.Equal(t, 0.8, cfg.Visualizer.Opacity)
	assert.False(t, cfg.TextAnimation.WordReveal)
	assert.Equal(t, RevealLTR, cfg.TextAnimation.RevealDirection)
}

func TestExportConfig_Dimensions(t *testing.T) {
	cfg := DefaultExportConfig()
	w, h := cfg.Dimensions()
	assert.Equal(t, 1080, w)
	assert.Equal(t, 1920, h)

	cfg.Orientation = OrientationLandscape
	w, h = cfg.Dimensions()
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	cfg.Orientation = OrientationSquare
	cfg.Resolution = 721
	w, h = cfg.Dimensions()
	assert.Equal(t, 722, w)
	assert.Equal(t, 722, h)
}

func TestExportConfig_Validate(t *testing.T) {
	cfg := DefaultExportConfig()
	require.NoError(t, cfg.Validate())

	cfg.FPS = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultExportConfig()
	cfg.BackgroundColor = "blue"
	assert.Error(t, cfg.Validate())
}

func TestParseHexColor(t *testing.T) {
	c, err := ParseHexColor("#ff8000")
	require.NoError(t, err)
	assert.Equal(t, uint8(0xff), c.R)
	assert.Equal(t, uint8(0x80), c.G)
	assert.Equal(t, uint8(0x00), c.B)

	c, err = ParseHexColor("#fff")
	require.NoError(t, err)
	assert.Equal(t, uint8(0xff), c.B)

	_, err = ParseHexColor("#12")
	assert.Error(t, err)
}

func TestCompositionValidate(t *testing.T) {
	comp := Composition{
		Assets: []CompositionAsset{
			{StartTime: 0, Kind: AssetKindImage, Source: "a.png"},
			{StartTime: 5, Kind: AssetKindVideo, Source: "b.mp4"},
		},
		Subtitles: []SubtitleCue{{
			ID: "c1", StartTime: 0, EndTime: 10, Text: "Hello world",
			Words: []Word{{"Hello", 0, 1}, {"world", 1, 2}},
		}},
	}
	require.NoError(t, comp.Validate())

	bad := comp
	bad.Subtitles = []SubtitleCue{{ID: "c2", StartTime: 3, EndTime: 3}}
	assert.Error(t, bad.Validate())

	bad = comp
	bad.Subtitles = []SubtitleCue{{ID: "c3", StartTime: 0, EndTime: 2, Words: []Word{{"x", 1, 3}}}}
	assert.Error(t, bad.Validate())

	bad = comp
	bad.Assets = nil
	assert.Error(t, bad.Validate())
}

func TestCompositionNormalize(t *testing.T) {
	comp := Composition{Assets: []CompositionAsset{
		{StartTime: 10, Source: "c"},
		{StartTime: 0, Source: "a"},
		{StartTime: 5, Source: "b"},
	}}
	comp.Normalize()
	assert.Equal(t, "a", comp.Assets[0].Source)
	assert.Equal(t, "b", comp.Assets[1].Source)
	assert.Equal(t, "c", comp.Assets[2].Source)
}

func TestCueActive(t *testing.T) {
	cue := SubtitleCue{StartTime: 1, EndTime: 2}
	assert.False(t, cue.Active(0.99))
	assert.True(t, cue.Active(1))
	assert.True(t, cue.Active(1.99))
	assert.False(t, cue.Active(2))
}

func TestJobStatusTerminal(t *testing.T) {
	statuses := []JobStatus{
		JobStatusQueued,
		JobStatusRendering,
		JobStatusEncoding,
		JobStatusComplete,
		JobStatusFailed,
	}
	for _, status := range statuses {
		assert.NotEmpty(t, status)
	}
	assert.True(t, JobStatusComplete.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.False(t, JobStatusEncoding.Terminal())
}

func TestStageOrder(t *testing.T) {
	for i, s := range Stages {
		assert.Equal(t, i, s.Order())
	}
	assert.Equal(t, -1, Stage("bogus").Order())
}

func TestJobEventJSON(t *testing.T) {
	var ev JobEvent
	require.NoError(t, json.Unmarshal([]byte(`{"status":"failed","progress":40,"error":"disk full"}`), &ev))
	assert.Equal(t, JobStatusFailed, ev.Status)
	assert.Equal(t, "disk full", ev.Error)
}
