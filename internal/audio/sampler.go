// Package audio derives per-frame frequency snapshots from decoded PCM.
package audio

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	SampleRate  = 44100
	DefaultBins = 64
	windowSize  = 2048

	minDecibels = -100.0
	maxDecibels = -30.0
)

// FrequencySource yields one magnitude snapshot (0-255 per bin) per output
// frame index.
type FrequencySource interface {
	Snapshot(frame int) []byte
}

// FrameIndex aligns a time to its output frame.
func FrameIndex(t float64, fps int) int {
	return int(math.Floor(t * float64(fps)))
}

// TotalFrames is the number of frames covering duration.
func TotalFrames(duration float64, fps int) int {
	return int(math.Ceil(duration*float64(fps) - 1e-9))
}

// Sampler computes snapshots with a Hann-windowed FFT centered on each
// frame. Not safe for concurrent use.
type Sampler struct {
	pcm        []float32
	sampleRate int
	fps        int
	bins       int

	fft    *fourier.FFT
	window []float64
	buf    []float64
	coeffs []complex128
}

// NewSampler wraps mono PCM samples.
func NewSampler(pcm []float32, sampleRate, fps, bins int) *Sampler {
	if bins <= 0 {
		bins = DefaultBins
	}
	w := make([]float64, windowSize)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(windowSize-1)))
	}
	return &Sampler{
		pcm:        pcm,
		sampleRate: sampleRate,
		fps:        fps,
		bins:       bins,
		fft:        fourier.NewFFT(windowSize),
		window:     w,
		buf:        make([]float64, windowSize),
		coeffs:     make([]complex128, windowSize/2+1),
	}
}

func (s *Sampler) Snapshot(frame int) []byte {
	out := make([]byte, s.bins)
	if s.fps <= 0 || len(s.pcm) == 0 {
		return out
	}

	center := int(float64(frame) * float64(s.sampleRate) / float64(s.fps))
	start := center - windowSize/2
	for i := range s.buf {
		j := start + i
		if j >= 0 && j < len(s.pcm) {
			s.buf[i] = float64(s.pcm[j]) * s.window[i]
		} else {
			s.buf[i] = 0
		}
	}
	s.fft.Coefficients(s.coeffs, s.buf)

	// bins span the lower half of the spectrum, where speech and music
	// carry most energy
	usable := windowSize / 4
	per := max(1, usable/s.bins)
	for b := 0; b < s.bins; b++ {
		var sum float64
		n := 0
		for k := 1 + b*per; k < 1+(b+1)*per && k < len(s.coeffs); k++ {
			sum += cmplx.Abs(s.coeffs[k])
			n++
		}
		if n == 0 {
			continue
		}
		out[b] = toByte(sum / float64(n) / (windowSize / 2))
	}
	return out
}

func toByte(mag float64) byte {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := (db - minDecibels) / (maxDecibels - minDecibels) * 255
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
