package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/framecast/internal/models"
)

const compositionYAML = `
title: demo
audio: narration.mp3
assets:
  - start_time: 0
    kind: image
    source: images/a.png
  - start_time: 5
    kind: video
    source: /abs/clip.mp4
    native_duration: 3.5
subtitles:
  - id: c1
    start_time: 0
    end_time: 2
    text: hello world
config:
  fps: 24
  orientation: landscape
  transition:
    type: fade
    duration_seconds: 0.5
`

func TestLoadCompositionYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "comp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(compositionYAML), 0644))

	comp, err := LoadComposition(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "narration.mp3"), comp.AudioPath)
	require.Len(t, comp.Assets, 2)
	assert.Equal(t, filepath.Join(dir, "images/a.png"), comp.Assets[0].Source)
	assert.Equal(t, "/abs/clip.mp4", comp.Assets[1].Source)
	require.NotNil(t, comp.Assets[1].NativeDuration)
	assert.Equal(t, 3.5, *comp.Assets[1].NativeDuration)
	require.Len(t, comp.Subtitles, 1)

	cfg := models.MergeExportConfig(comp.Config)
	assert.Equal(t, 24, cfg.FPS)
	assert.Equal(t, models.OrientationLandscape, cfg.Orientation)
	assert.Equal(t, models.TransitionFade, cfg.Transition.Type)
}

func TestLoadCompositionJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "comp.json")
	body := `{"audio":"https://cdn.example/a.mp3","assets":[{"start_time":0,"kind":"image","source":"x.jpg"}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	comp, err := LoadComposition(path)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/a.mp3", comp.AudioPath)
	assert.Equal(t, filepath.Join(dir, "x.jpg"), comp.Assets[0].Source)
	assert.Nil(t, comp.Config)
}

func TestLoadCompositionErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadComposition(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	txt := filepath.Join(dir, "comp.txt")
	require.NoError(t, os.WriteFile(txt, []byte("{}"), 0644))
	_, err = LoadComposition(txt)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))
	_, err = LoadComposition(bad)
	assert.Error(t, err)
}
