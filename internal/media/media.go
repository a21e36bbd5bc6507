// Package media holds decoded visual sources and the per-export cache that
// owns them.
package media

import (
	"image"
	"math"
)

// StillMedia is a single decoded image.
type StillMedia struct {
	img image.Image
}

func NewStill(img image.Image) *StillMedia {
	return &StillMedia{img: img}
}

func (m *StillMedia) FrameAt(float64) image.Image { return m.img }

func (m *StillMedia) Size() image.Point { return m.img.Bounds().Size() }

// VideoMedia is a clip decoded to a frame sequence at a fixed rate.
//
// Reads past the last frame return the last frame: a clip shorter than its
// slot holds its final frame instead of looping.
type VideoMedia struct {
	frames []image.Image
	fps    float64
}

func NewVideo(frames []image.Image, fps float64) *VideoMedia {
	return &VideoMedia{frames: frames, fps: fps}
}

// FrameIndex clamps the read position into [0, len(frames)-1].
func (m *VideoMedia) FrameIndex(offset float64) int {
	if len(m.frames) == 0 {
		return -1
	}
	i := int(math.Floor(offset * m.fps))
	if i < 0 {
		return 0
	}
	if i >= len(m.frames) {
		return len(m.frames) - 1
	}
	return i
}

func (m *VideoMedia) FrameAt(offset float64) image.Image {
	i := m.FrameIndex(offset)
	if i < 0 {
		return nil
	}
	return m.frames[i]
}

func (m *VideoMedia) Size() image.Point {
	if len(m.frames) == 0 {
		return image.Point{}
	}
	return m.frames[0].Bounds().Size()
}

// Duration is the decoded length in seconds.
func (m *VideoMedia) Duration() float64 {
	if m.fps <= 0 {
		return 0
	}
	return float64(len(m.frames)) / m.fps
}

// FrameCount returns the number of decoded frames.
func (m *VideoMedia) FrameCount() int { return len(m.frames) }
