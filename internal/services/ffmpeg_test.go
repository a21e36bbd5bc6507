package services

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgress(t *testing.T) {
	out := strings.Join([]string{
		"frame=24",
		"out_time_us=1000000",
		"progress=continue",
		"out_time_ms=2500000",
		"out_time_us=N/A",
		"progress=end",
	}, "\n")

	var got []float64
	ParseProgress(strings.NewReader(out), 5, func(f float64) { got = append(got, f) })
	assert.Equal(t, []float64{0.2, 0.5, 1}, got)
}

func TestDecodeF32LE(t *testing.T) {
	var buf bytes.Buffer
	for _, v := range []float32{0.5, -1, 0.25} {
		binary.Write(&buf, binary.LittleEndian, math.Float32bits(v))
	}
	buf.WriteByte(0x01) // partial sample

	assert.Equal(t, []float32{0.5, -1, 0.25}, DecodeF32LE(buf.Bytes()))
}

func TestDecodePNGStream(t *testing.T) {
	var stream bytes.Buffer
	for i := 0; i < 3; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 4, 2))
		img.Set(0, 0, color.RGBA{R: uint8(i), A: 255})
		require.NoError(t, png.Encode(&stream, img))
	}

	frames, err := decodePNGStream(&stream)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	r, _, _, _ := frames[2].At(0, 0).RGBA()
	assert.Equal(t, uint32(2*0x101), r)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", tail("  abc\n", 10))
	assert.Equal(t, "...cd", tail("abcd", 2))
}
