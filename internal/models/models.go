package models

import (
	"fmt"
	"image"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Enums
type AssetKind string

const (
	AssetKindImage AssetKind = "image"
	AssetKindVideo AssetKind = "video"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRendering JobStatus = "rendering"
	JobStatusEncoding  JobStatus = "encoding"
	JobStatusComplete  JobStatus = "complete"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// Media is a decoded visual source. FrameAt receives the offset in seconds
// from the asset's start time.
type Media interface {
	FrameAt(offset float64) image.Image
	Size() image.Point
}

// Models

type CompositionAsset struct {
	StartTime      float64   `json:"start_time" yaml:"start_time"`
	Kind           AssetKind `json:"kind" yaml:"kind"`
	Source         string    `json:"source" yaml:"source"`
	NativeDuration *float64  `json:"native_duration,omitempty" yaml:"native_duration,omitempty"`

	// Media is resolved at export time from Source (see media.Loader).
	Media Media `json:"-" yaml:"-"`
}

type Word struct {
	Word      string  `json:"word" yaml:"word"`
	StartTime float64 `json:"start_time" yaml:"start_time"`
	EndTime   float64 `json:"end_time" yaml:"end_time"`
}

type SubtitleCue struct {
	ID        string  `json:"id" yaml:"id"`
	StartTime float64 `json:"start_time" yaml:"start_time"`
	EndTime   float64 `json:"end_time" yaml:"end_time"`
	Text      string  `json:"text" yaml:"text"`
	Words     []Word  `json:"words,omitempty" yaml:"words,omitempty"`
}

// Active reports whether the cue is on screen at t (end exclusive).
func (c SubtitleCue) Active(t float64) bool {
	return c.StartTime <= t && t < c.EndTime
}

// Composition is the full timed model handed to an exporter.
type Composition struct {
	Title     string             `json:"title,omitempty" yaml:"title,omitempty"`
	AudioPath string             `json:"audio" yaml:"audio"`
	Assets    []CompositionAsset `json:"assets" yaml:"assets"`
	Subtitles []SubtitleCue      `json:"subtitles,omitempty" yaml:"subtitles,omitempty"`
	Config    *ExportConfigPatch `json:"config,omitempty" yaml:"config,omitempty"`
}

// Normalize sorts assets by start time. Cue order is preserved.
func (c *Composition) Normalize() {
	sort.SliceStable(c.Assets, func(i, j int) bool {
		return c.Assets[i].StartTime < c.Assets[j].StartTime
	})
}

// Validate checks asset ordering and cue/word span invariants.
func (c *Composition) Validate() error {
	if len(c.Assets) == 0 {
		return fmt.Errorf("composition has no assets")
	}
	for i, a := range c.Assets {
		if a.Kind != AssetKindImage && a.Kind != AssetKindVideo {
			return fmt.Errorf("asset %d: unknown kind %q", i, a.Kind)
		}
		if a.StartTime < 0 {
			return fmt.Errorf("asset %d: negative start time", i)
		}
		if i > 0 && a.StartTime < c.Assets[i-1].StartTime {
			return fmt.Errorf("asset %d: start time %.3f before previous asset", i, a.StartTime)
		}
	}
	for _, cue := range c.Subtitles {
		if cue.EndTime <= cue.StartTime {
			return fmt.Errorf("cue %q: end time must be after start time", cue.ID)
		}
		prev := cue.StartTime
		for j, w := range cue.Words {
			if w.StartTime < prev || w.EndTime < w.StartTime {
				return fmt.Errorf("cue %q: word %d span is not monotonic", cue.ID, j)
			}
			if w.StartTime < cue.StartTime || w.EndTime > cue.EndTime {
				return fmt.Errorf("cue %q: word %d span outside cue", cue.ID, j)
			}
			prev = w.StartTime
		}
	}
	return nil
}

// FrameChecksum is one manifest entry.
type FrameChecksum struct {
	FrameIndex int    `json:"frame_index"`
	Checksum   string `json:"checksum"`
	SizeBytes  int    `json:"size_bytes"`
}

// Manifest maps frame index to its checksum entry.
type Manifest map[int]FrameChecksum

// ExportJob tracks a cloud export session on the render server.
type ExportJob struct {
	SessionID       uuid.UUID  `json:"session_id"`
	JobID           *uuid.UUID `json:"job_id,omitempty"`
	TotalFrames     int        `json:"total_frames"`
	FPS             int        `json:"fps"`
	FrameFormat     string     `json:"frame_format,omitempty"`
	AudioPath       string     `json:"-"`
	Status          JobStatus  `json:"status"`
	ProgressPercent float64    `json:"progress_percent"`
	ResultHandle    *string    `json:"result_handle,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// JobEvent is a push progress event for an export job. Progress is on the
// remote 0-100 scale.
type JobEvent struct {
	Status   JobStatus `json:"status"`
	Progress float64   `json:"progress"`
	Message  string    `json:"message,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// DTOs for the render server wire contract

type InitSessionResponse struct {
	SessionID    uuid.UUID `json:"session_id"`
	PushProgress bool      `json:"push_progress"`
}

type FinalizeRequest struct {
	FPS         int  `json:"fps"`
	TotalFrames int  `json:"total_frames"`
	Sync        bool `json:"sync"`
}

type FinalizeResponse struct {
	JobID uuid.UUID `json:"job_id"`
}

type ManifestRequest struct {
	Frames []FrameChecksum `json:"frames"`
}
