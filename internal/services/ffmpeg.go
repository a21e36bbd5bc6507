package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bobarin/framecast/internal/logx"
)

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegService struct {
	ffmpegPath  string
	ffprobePath string
	tempDir     string
	logger      zerolog.Logger
}

func NewFFmpegService(ffmpegPath, ffprobePath, tempDir string) (*FFmpegService, error) {
	// Create temp directory if it doesn't exist
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}

	return &FFmpegService{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		tempDir:     tempDir,
		logger:      logx.Component("ffmpeg"),
	}, nil
}

// EncodeFrameSequence muxes a numbered still sequence with an audio track in
// one invocation. framePattern is a printf-style path such as
// /tmp/x/frame_%06d.jpg.
func (s *FFmpegService) EncodeFrameSequence(ctx context.Context, framePattern string, fps int, audioPath, outputPath string) error {
	return s.EncodeWithProgress(ctx, framePattern, fps, 0, audioPath, outputPath, nil)
}

// EncodeWithProgress is EncodeFrameSequence reporting the encoded fraction
// (0-1) of totalFrames as ffmpeg advances. onProgress may be nil.
func (s *FFmpegService) EncodeWithProgress(ctx context.Context, framePattern string, fps, totalFrames int, audioPath, outputPath string, onProgress func(float64)) error {
	args := []string{
		"-framerate", strconv.Itoa(fps), // Fixed input rate for the still sequence
		"-i", framePattern,
		"-i", audioPath,
		"-map", "0:v",
		"-map", "1:a",
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2", // libx264 + yuv420p need even dimensions
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest", // End when the shorter stream finishes
		"-movflags", "+faststart",
	}
	if onProgress != nil {
		args = append(args, "-progress", "pipe:1", "-nostats")
	}
	args = append(args, "-y", outputPath)

	s.logger.Info().
		Str("pattern", framePattern).
		Int("fps", fps).
		Str("output", outputPath).
		Msg("encoding frame sequence")

	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if onProgress == nil {
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("ffmpeg encode failed: %w: %s", err, tail(stderr.String(), 500))
		}
		return nil
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open ffmpeg progress pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	totalSeconds := 0.0
	if fps > 0 {
		totalSeconds = float64(totalFrames) / float64(fps)
	}
	ParseProgress(stdout, totalSeconds, onProgress)

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg encode failed: %w: %s", err, tail(stderr.String(), 500))
	}
	return nil
}

// ParseProgress reads ffmpeg -progress key=value output and reports the
// encoded fraction of totalSeconds.
func ParseProgress(r io.Reader, totalSeconds float64, onProgress func(float64)) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			// both keys carry microseconds
			us, err := strconv.ParseInt(value, 10, 64)
			if err != nil || totalSeconds <= 0 {
				continue
			}
			onProgress(math.Min(1, float64(us)/1e6/totalSeconds))
		case "progress":
			if value == "end" {
				onProgress(1)
			}
		}
	}
}

// GetAudioDuration returns the duration of an audio file in milliseconds
func (s *FFmpegService) GetAudioDuration(ctx context.Context, audioPath string) (int, error) {
	// Use ffprobe to get duration
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		audioPath,
	}

	cmd := exec.CommandContext(ctx, s.ffprobePath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w: %s", err, tail(stderr.String(), 300))
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return int(math.Round(durationSec * 1000)), nil
}

// DecodePCM decodes audio to mono little-endian float32 samples.
func (s *FFmpegService) DecodePCM(ctx context.Context, audioPath string, sampleRate int) ([]float32, error) {
	args := []string{
		"-v", "error",
		"-i", audioPath,
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "f32le",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	raw, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg pcm decode failed: %w: %s", err, tail(stderr.String(), 300))
	}

	return DecodeF32LE(raw), nil
}

// DecodeF32LE converts raw f32le bytes to samples. A trailing partial
// sample is dropped.
func DecodeF32LE(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

// ExtractFrames decodes a video into frames at fps, scaled to cover a
// w x h canvas with its aspect ratio kept. At most maxSeconds are read.
func (s *FFmpegService) ExtractFrames(ctx context.Context, source string, fps, w, h int, maxSeconds float64) ([]image.Image, error) {
	vf := fmt.Sprintf("fps=%d,scale=%d:%d:force_original_aspect_ratio=increase", fps, w, h)
	args := []string{"-v", "error", "-i", source}
	if maxSeconds > 0 {
		args = append(args, "-t", strconv.FormatFloat(maxSeconds, 'f', 3, 64))
	}
	args = append(args,
		"-an",
		"-vf", vf,
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	)

	s.logger.Debug().Str("source", source).Float64("max_seconds", maxSeconds).Msg("extracting video frames")

	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	frames, decodeErr := decodePNGStream(stdout)
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame extraction failed: %w: %s", err, tail(stderr.String(), 300))
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return frames, nil
}

// decodePNGStream decodes back-to-back PNG images until EOF.
func decodePNGStream(r io.Reader) ([]image.Image, error) {
	br := bufio.NewReader(r)
	var frames []image.Image
	for {
		if _, err := br.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return frames, fmt.Errorf("failed to read frame stream: %w", err)
		}
		img, err := png.Decode(br)
		if err != nil {
			return frames, fmt.Errorf("failed to decode frame %d: %w", len(frames), err)
		}
		frames = append(frames, img)
	}
}

// CreateTempDir creates a unique working directory under the service's temp dir
func (s *FFmpegService) CreateTempDir(prefix string) (string, error) {
	dir, err := os.MkdirTemp(s.tempDir, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	return dir, nil
}

// CreateTempFile creates a temporary file in the service's temp directory
func (s *FFmpegService) CreateTempFile(filename string) string {
	return filepath.Join(s.tempDir, filename)
}

// Cleanup removes temporary files and directories
func (s *FFmpegService) Cleanup(paths ...string) {
	for _, path := range paths {
		os.RemoveAll(path)
	}
}

// tail keeps the last n bytes of ffmpeg's stderr for error messages
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
