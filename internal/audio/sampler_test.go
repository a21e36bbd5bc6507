package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sine(freq float64, seconds float64) []float32 {
	n := int(seconds * SampleRate)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.8 * math.Sin(2*math.Pi*freq*float64(i)/SampleRate))
	}
	return out
}

func TestFrameAlignment(t *testing.T) {
	assert.Equal(t, 240, TotalFrames(10, 24))
	assert.Equal(t, 241, TotalFrames(10.01, 24))
	assert.Equal(t, 0, FrameIndex(0.01, 24))
	assert.Equal(t, 24, FrameIndex(1, 24))
}

func TestSampler_SilenceIsZero(t *testing.T) {
	s := NewSampler(make([]float32, SampleRate), SampleRate, 24, 32)
	for _, v := range s.Snapshot(10) {
		assert.Equal(t, byte(0), v)
	}
}

func TestSampler_ToneLandsInLowBin(t *testing.T) {
	s := NewSampler(sine(440, 2), SampleRate, 24, 32)
	snap := s.Snapshot(24)
	assert.Len(t, snap, 32)

	// 440Hz sits in coefficient ~20 of a 2048 window; 16 coefficients per bin
	peak := 0
	for i, v := range snap {
		if v > snap[peak] {
			peak = i
		}
	}
	assert.Equal(t, 1, peak)
	assert.Greater(t, snap[1], byte(100))
}

func TestSampler_Deterministic(t *testing.T) {
	pcm := sine(1000, 1)
	a := NewSampler(pcm, SampleRate, 30, 64)
	b := NewSampler(pcm, SampleRate, 30, 64)
	assert.Equal(t, a.Snapshot(7), b.Snapshot(7))
	assert.Equal(t, a.Snapshot(7), a.Snapshot(7))
}
