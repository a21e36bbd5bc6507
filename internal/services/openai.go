package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog"

	"github.com/bobarin/framecast/internal/logx"
	"github.com/bobarin/framecast/internal/models"
)

type OpenAIService struct {
	client *openai.Client
	logger zerolog.Logger
}

func NewOpenAIService(apiKey string) *OpenAIService {
	return newOpenAIService(openai.DefaultConfig(apiKey))
}

func newOpenAIService(cfg openai.ClientConfig) *OpenAIService {
	return &OpenAIService{
		client: openai.NewClientWithConfig(cfg),
		logger: logx.Component("whisper"),
	}
}

// WordTimestamp represents a single word with its precise timing from Whisper.
type WordTimestamp struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
}

// TranscribeFile reads an audio file and transcribes it with word timing.
func (s *OpenAIService) TranscribeFile(ctx context.Context, audioPath, language string) ([]WordTimestamp, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio: %w", err)
	}
	defer f.Close()

	return s.transcribe(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   f,
		FilePath: filepath.Base(audioPath), // Filename hint for the API (required by the library)
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: language,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		},
	})
}

func (s *OpenAIService) transcribe(ctx context.Context, req openai.AudioRequest) ([]WordTimestamp, error) {
	if req.Language == "" {
		req.Language = "en"
	}

	resp, err := s.client.CreateTranscription(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	if len(resp.Words) == 0 {
		return nil, fmt.Errorf("whisper returned no word timestamps (text: %q)", resp.Text)
	}

	words := make([]WordTimestamp, len(resp.Words))
	for i, w := range resp.Words {
		words[i] = WordTimestamp{
			Word:  strings.TrimSpace(w.Word),
			Start: w.Start,
			End:   w.End,
		}
	}

	s.logger.Info().
		Int("words", len(words)).
		Float64("duration", resp.Duration).
		Str("text", truncateString(resp.Text, 80)).
		Msg("transcribed audio")

	return words, nil
}

// AlignCues fills word timing on cues that have none. A word belongs to
// the cue containing its midpoint; its span is clamped into the cue. Cues
// that already carry words are returned unchanged.
func AlignCues(cues []models.SubtitleCue, words []WordTimestamp) []models.SubtitleCue {
	out := make([]models.SubtitleCue, len(cues))
	copy(out, cues)

	for i := range out {
		cue := &out[i]
		if len(cue.Words) > 0 {
			continue
		}
		prevStart := cue.StartTime
		for _, w := range words {
			mid := (w.Start + w.End) / 2
			if mid < cue.StartTime || mid >= cue.EndTime || w.Word == "" {
				continue
			}
			start := max(w.Start, prevStart)
			end := min(max(w.End, start), cue.EndTime)
			cue.Words = append(cue.Words, models.Word{Word: w.Word, StartTime: start, EndTime: end})
			prevStart = start
		}
	}
	return out
}

// CuesFromWords builds cues of up to wordsPerChunk words from a bare
// transcription, breaking early at sentence ends.
func CuesFromWords(words []WordTimestamp) []models.SubtitleCue {
	var cues []models.SubtitleCue
	for i, chunk := range chunkWords(words, wordsPerChunk) {
		cue := models.SubtitleCue{
			ID:        fmt.Sprintf("cue-%d", i+1),
			StartTime: chunk[0].Start,
			EndTime:   chunk[len(chunk)-1].End,
		}
		texts := make([]string, 0, len(chunk))
		for _, w := range chunk {
			texts = append(texts, w.Word)
			cue.Words = append(cue.Words, models.Word{Word: w.Word, StartTime: w.Start, EndTime: w.End})
		}
		cue.Text = strings.Join(texts, " ")
		if cue.EndTime <= cue.StartTime {
			cue.EndTime = cue.StartTime + 0.1
		}
		cues = append(cues, cue)
	}
	return cues
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
