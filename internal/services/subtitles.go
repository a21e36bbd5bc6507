package services

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/bobarin/framecast/internal/models"
)

// ---------------------------------------------------------------------------
// Karaoke ASS Subtitle Sidecar
//
// Writes the composition's cues as an ASS (Advanced SubStation Alpha) file so
// players can show soft subtitles next to the burned-in ones. Cues with word
// timing get \k karaoke tags so the sweep follows the narration.
// ---------------------------------------------------------------------------

const (
	// How many words to show at once when building cues from a transcription
	wordsPerChunk = 4

	subtitleFontName = "Noto Sans"

	// ASS colors are in &HAABBGGRR format (hex, note: BGR not RGB)
	assColorWhite     = "&H00FFFFFF" // pure white
	assColorGhost     = "&HA0FFFFFF" // dim white (unsung karaoke)
	assColorBlack     = "&H00000000" // pure black (for outline)
	assColorSemiBlack = "&H80000000" // 50% transparent black (for shadow)
)

// GenerateASSSubtitles writes cues as an ASS script sized for a w x h video.
func GenerateASSSubtitles(cues []models.SubtitleCue, outputPath string, w, h int) error {
	content, err := BuildASS(cues, w, h)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write ASS subtitle file: %w", err)
	}
	return nil
}

// BuildASS renders the ASS script text.
func BuildASS(cues []models.SubtitleCue, w, h int) (string, error) {
	if len(cues) == 0 {
		return "", fmt.Errorf("no cues to generate subtitles from")
	}

	fontSize := max(12, min(w, h)*6/100)
	outline := max(1, fontSize/20)
	marginV := h * 10 / 100

	var sb strings.Builder

	// Script header
	sb.WriteString("[Script Info]\n")
	sb.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(&sb, "PlayResX: %d\n", w)
	fmt.Fprintf(&sb, "PlayResY: %d\n", h)
	sb.WriteString("WrapStyle: 0\n")
	sb.WriteString("ScaledBorderAndShadow: yes\n")
	sb.WriteString("\n")

	// Style definitions
	sb.WriteString("[V4+ Styles]\n")
	sb.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")

	// Default style: bold white text, dim secondary for not-yet-sung karaoke syllables
	fmt.Fprintf(&sb,
		"Style: Default,%s,%d,%s,%s,%s,%s,-1,0,0,0,100,100,0,0,1,%d,1,2,40,40,%d,1\n",
		subtitleFontName, fontSize,
		assColorWhite,     // PrimaryColour (revealed text)
		assColorGhost,     // SecondaryColour
		assColorBlack,     // OutlineColour
		assColorSemiBlack, // BackColour (shadow)
		outline,
		marginV,
	)
	sb.WriteString("\n")

	// Events (dialogue lines)
	sb.WriteString("[Events]\n")
	sb.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	for _, cue := range cues {
		fmt.Fprintf(&sb,
			"Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			formatASSTime(cue.StartTime),
			formatASSTime(cue.EndTime),
			karaokeText(cue),
		)
	}

	return sb.String(), nil
}

// karaokeText builds the dialogue text. Each word's \k duration (in
// centiseconds) runs from the previous boundary to the word's end so the
// sweep stays aligned with the cue clock.
//
// Output example: "{\k50}Hello {\k100}world"
func karaokeText(cue models.SubtitleCue) string {
	if len(cue.Words) == 0 {
		return escapeASS(cue.Text)
	}

	var parts []string
	cursor := cue.StartTime
	for _, w := range cue.Words {
		word := escapeASS(strings.TrimSpace(w.Word))
		if word == "" {
			continue
		}
		end := math.Max(w.EndTime, cursor)
		cs := int(math.Round((end - cursor) * 100))
		parts = append(parts, fmt.Sprintf("{\\k%d}%s", cs, word))
		cursor = end
	}
	return strings.Join(parts, " ")
}

// escapeASS keeps cue text from opening override blocks.
func escapeASS(s string) string {
	r := strings.NewReplacer("{", "(", "}", ")", "\n", "\\N")
	return r.Replace(s)
}

// chunkWords groups words into display chunks of the specified size.
// It also breaks at sentence boundaries (., !, ?) to keep chunks natural.
func chunkWords(words []WordTimestamp, chunkSize int) [][]WordTimestamp {
	var chunks [][]WordTimestamp
	var current []WordTimestamp

	for _, word := range words {
		current = append(current, word)

		// Break chunk if we've reached the target size
		// OR if the word ends with sentence-ending punctuation
		isSentenceEnd := strings.ContainsAny(word.Word, ".!?")
		if len(current) >= chunkSize || (isSentenceEnd && len(current) >= 2) {
			chunks = append(chunks, current)
			current = nil
		}
	}

	// Don't forget the last partial chunk
	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	return chunks
}

// formatASSTime converts seconds to ASS timestamp format: H:MM:SS.CC (centiseconds)
func formatASSTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}

	total := int(math.Round(seconds * 100))
	hours := total / 360000
	minutes := (total % 360000) / 6000
	secs := (total % 6000) / 100
	centiseconds := total % 100

	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, secs, centiseconds)
}
