// Package spool keeps each render session's uploaded audio, frames and
// manifest on local disk until the encode finishes.
package spool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/framecast/internal/models"
)

const (
	framePrefix  = "frame_"
	manifestName = "manifest.json"
	outputName   = "output.mp4"
)

var (
	ErrNoFrames = errors.New("no frames uploaded")

	// frame_000042.png
	frameName = regexp.MustCompile(`^frame_(\d{6})\.([a-z0-9]+)$`)
	allowExt  = map[string]bool{"png": true, "jpg": true, "jpeg": true, "webp": true}
)

type Spool struct {
	root string
}

func New(root string) (*Spool, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool root: %w", err)
	}
	return &Spool{root: root}, nil
}

// Session returns the spool area of one session. Nothing is created until
// the first write.
func (s *Spool) Session(id uuid.UUID) *Session {
	return &Session{dir: filepath.Join(s.root, id.String())}
}

// Sweep removes session directories untouched for longer than maxAge and
// returns how many were removed.
func (s *Spool) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("failed to list spool: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

type Session struct {
	dir string
}

func (s *Session) Dir() string { return s.dir }

// OutputPath is where the encoded video is written.
func (s *Session) OutputPath() string { return filepath.Join(s.dir, outputName) }

// SaveAudio stores the session's audio track and returns its path. The
// original extension is kept so ffmpeg can probe the container.
func (s *Session) SaveAudio(filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".bin"
	}
	path := filepath.Join(s.dir, "audio"+ext)
	if err := s.write(path, r); err != nil {
		return "", fmt.Errorf("failed to save audio: %w", err)
	}
	return path, nil
}

// SaveFrame stores one encoded frame. Re-uploading an index overwrites it.
func (s *Session) SaveFrame(index int, ext string, r io.Reader) error {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if index < 0 || index > 999999 {
		return fmt.Errorf("frame index %d out of range", index)
	}
	if !allowExt[ext] {
		return fmt.Errorf("unsupported frame format %q", ext)
	}
	if err := s.write(s.framePath(index, ext), r); err != nil {
		return fmt.Errorf("failed to save frame %d: %w", index, err)
	}
	return nil
}

// write goes through a temp file so readers never see a partial frame.
func (s *Session) write(path string, r io.Reader) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Present lists the uploaded frame indices in ascending order.
func (s *Session) Present() ([]int, error) {
	fs, err := s.Frames()
	if err != nil {
		return nil, err
	}
	return fs.Indices(), nil
}

// FrameSet is a snapshot of a session's frames taken with a single
// directory listing. Frames uploaded after the snapshot are not seen.
type FrameSet struct {
	sess   *Session
	frames map[int]string
}

// Frames lists the session directory once and returns the snapshot.
func (s *Session) Frames() (*FrameSet, error) {
	frames, _, err := s.scan()
	if err != nil {
		return nil, err
	}
	return &FrameSet{sess: s, frames: frames}, nil
}

func (fs *FrameSet) Len() int { return len(fs.frames) }

// Indices returns the frame indices in ascending order.
func (fs *FrameSet) Indices() []int {
	indices := make([]int, 0, len(fs.frames))
	for i := range fs.frames {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return indices
}

// Read returns the stored bytes of one frame.
func (fs *FrameSet) Read(index int) ([]byte, error) {
	ext, ok := fs.frames[index]
	if !ok {
		return nil, fmt.Errorf("frame %d: %w", index, os.ErrNotExist)
	}
	return os.ReadFile(fs.sess.framePath(index, ext))
}

// Pattern returns the printf-style input pattern for the encoder. All
// frames of a session must share one format.
func (s *Session) Pattern() (string, error) {
	frames, exts, err := s.scan()
	if err != nil {
		return "", err
	}
	if len(frames) == 0 {
		return "", ErrNoFrames
	}
	if len(exts) > 1 {
		return "", fmt.Errorf("mixed frame formats in session")
	}
	var ext string
	for e := range exts {
		ext = e
	}
	return filepath.Join(s.dir, framePrefix+"%06d."+ext), nil
}

// SaveManifest stores the client's checksum manifest.
func (s *Session) SaveManifest(entries []models.FrameChecksum) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := s.write(filepath.Join(s.dir, manifestName), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	return nil
}

// Manifest loads the stored manifest, or nil when none was sent.
func (s *Session) Manifest() ([]models.FrameChecksum, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, manifestName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var entries []models.FrameChecksum
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return entries, nil
}

// RemoveFrames deletes the frames once the video exists.
func (s *Session) RemoveFrames() error {
	frames, _, err := s.scan()
	if err != nil {
		return err
	}
	for i, ext := range frames {
		if err := os.Remove(s.framePath(i, ext)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Cleanup removes everything stored for the session.
func (s *Session) Cleanup() error {
	return os.RemoveAll(s.dir)
}

func (s *Session) framePath(index int, ext string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%06d.%s", framePrefix, index, ext))
}

// scan maps frame index to extension and collects the set of extensions.
func (s *Session) scan() (map[int]string, map[string]bool, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return map[int]string{}, map[string]bool{}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list session: %w", err)
	}

	frames := make(map[int]string)
	exts := make(map[string]bool)
	for _, e := range entries {
		m := frameName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		frames[idx] = m[2]
		exts[m[2]] = true
	}
	return frames, exts, nil
}
