package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/framecast/internal/models"
)

func TestFormatASSTime(t *testing.T) {
	assert.Equal(t, "0:00:00.00", formatASSTime(-1))
	assert.Equal(t, "0:00:01.50", formatASSTime(1.5))
	assert.Equal(t, "0:01:05.25", formatASSTime(65.25))
	assert.Equal(t, "1:00:00.00", formatASSTime(3600))
}

func TestKaraokeText(t *testing.T) {
	cue := models.SubtitleCue{
		StartTime: 1,
		EndTime:   3,
		Text:      "Hello world",
		Words: []models.Word{
			{Word: "Hello", StartTime: 1, EndTime: 1.5},
			{Word: "world", StartTime: 1.5, EndTime: 2.5},
		},
	}
	assert.Equal(t, `{\k50}Hello {\k100}world`, karaokeText(cue))

	plain := models.SubtitleCue{StartTime: 0, EndTime: 1, Text: "no {tags}"}
	assert.Equal(t, "no (tags)", karaokeText(plain))
}

func TestGenerateASSSubtitles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subs.ass")
	cues := []models.SubtitleCue{
		{StartTime: 0, EndTime: 2, Text: "first"},
		{StartTime: 2, EndTime: 4, Text: "second"},
	}
	require.NoError(t, GenerateASSSubtitles(cues, path, 1280, 720))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, "PlayResX: 1280")
	assert.Contains(t, s, "PlayResY: 720")
	assert.Contains(t, s, "Dialogue: 0,0:00:00.00,0:00:02.00,Default,,0,0,0,,first")
	assert.Equal(t, 2, strings.Count(s, "Dialogue:"))

	assert.Error(t, GenerateASSSubtitles(nil, path, 1280, 720))
}

func TestChunkWords(t *testing.T) {
	words := []WordTimestamp{
		{Word: "One"}, {Word: "two."}, {Word: "three"}, {Word: "four"},
		{Word: "five"}, {Word: "six"}, {Word: "seven"},
	}
	chunks := chunkWords(words, 4)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 2)
	assert.Len(t, chunks[1], 4)
	assert.Len(t, chunks[2], 1)
}
