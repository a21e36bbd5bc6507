package media

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/framecast/internal/models"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestVideoMedia_HoldsLastFrame(t *testing.T) {
	frames := []image.Image{
		solid(2, 2, color.RGBA{R: 1, A: 255}),
		solid(2, 2, color.RGBA{R: 2, A: 255}),
		solid(2, 2, color.RGBA{R: 3, A: 255}),
	}
	v := NewVideo(frames, 10)

	assert.Equal(t, 0, v.FrameIndex(-1))
	assert.Equal(t, 0, v.FrameIndex(0.05))
	assert.Equal(t, 1, v.FrameIndex(0.1))
	assert.Equal(t, 2, v.FrameIndex(0.29))
	assert.Equal(t, 2, v.FrameIndex(5))
	assert.Same(t, frames[2], v.FrameAt(60))
	assert.InDelta(t, 0.3, v.Duration(), 1e-9)
}

func TestCover_FillsCanvas(t *testing.T) {
	src := solid(400, 100, color.RGBA{G: 200, A: 255})
	out := Cover(src, 90, 160)
	assert.Equal(t, image.Rect(0, 0, 90, 160), out.Bounds())
	assert.Equal(t, uint8(200), out.RGBAAt(45, 80).G)
}

func TestContain_PreservesAspect(t *testing.T) {
	src := solid(400, 100, color.RGBA{B: 200, A: 255})
	out := Contain(src, 100, 200)
	assert.Equal(t, 100, out.Bounds().Dx())
	assert.Equal(t, 25, out.Bounds().Dy())
}

func TestCache_ScaledIsMemoizedAndCleared(t *testing.T) {
	c := NewCache()
	src := solid(10, 10, color.RGBA{A: 255})

	a := c.Scaled(src, 4, 4, models.ContentModeCover)
	b := c.Scaled(src, 4, 4, models.ContentModeCover)
	assert.Same(t, a, b)

	c.StoreMedia("x.png", NewStill(src))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.NotSame(t, a, c.Scaled(src, 4, 4, models.ContentModeCover))
}

type fakeExtractor struct {
	calls      int
	maxSeconds float64
}

func (f *fakeExtractor) ExtractFrames(_ context.Context, _ string, fps, w, h int, maxSeconds float64) ([]image.Image, error) {
	f.calls++
	f.maxSeconds = maxSeconds
	return []image.Image{solid(w, h, color.RGBA{A: 255})}, nil
}

func TestLoader_ResolvesAndCaches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "still.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, solid(8, 8, color.RGBA{R: 255, A: 255})))
	require.NoError(t, f.Close())

	native := 2.0
	assets := []models.CompositionAsset{
		{StartTime: 0, Kind: models.AssetKindImage, Source: path},
		{StartTime: 5, Kind: models.AssetKindVideo, Source: "clip.mp4", NativeDuration: &native},
		{StartTime: 8, Kind: models.AssetKindImage, Source: path},
	}

	ex := &fakeExtractor{}
	cache := NewCache()
	var seen []models.AssetKind
	err = NewLoader(cache, ex).Resolve(context.Background(), assets, 10, 24, 16, 16, func(_ int, k models.AssetKind) {
		seen = append(seen, k)
	})
	require.NoError(t, err)

	assert.Equal(t, 1, ex.calls)
	assert.Equal(t, 2.0, ex.maxSeconds)
	assert.Equal(t, 2, cache.Len())
	assert.Same(t, assets[0].Media, assets[2].Media)
	assert.Len(t, seen, 3)
}

func TestLoader_MissingFile(t *testing.T) {
	assets := []models.CompositionAsset{{Kind: models.AssetKindImage, Source: "/nonexistent/a.png"}}
	err := NewLoader(NewCache(), nil).Resolve(context.Background(), assets, 1, 24, 16, 16, nil)
	assert.Error(t, err)
}

func TestCache_VideoFramesKeepOneSlotPerOwner(t *testing.T) {
	c := NewCache()
	owner, other := new(int), new(int)

	var last *image.RGBA
	for i := 0; i < 60; i++ {
		last = c.ScaledFrame(owner, solid(8, 8, color.RGBA{R: uint8(i), A: 255}), 6, 6, models.ContentModeCover)
	}
	assert.Equal(t, 1, c.ScaledLen())
	assert.Equal(t, uint8(59), last.RGBAAt(3, 3).R)

	held := solid(8, 8, color.RGBA{A: 255})
	a := c.ScaledFrame(other, held, 6, 6, models.ContentModeCover)
	assert.Same(t, a, c.ScaledFrame(other, held, 6, 6, models.ContentModeCover))
	assert.Equal(t, 2, c.ScaledLen())

	c.Clear()
	assert.Equal(t, 0, c.ScaledLen())
}

// clipExtractor decodes a clip of native seconds, honoring maxSeconds.
type clipExtractor struct {
	native float64
	spans  []float64
}

func (f *clipExtractor) ExtractFrames(_ context.Context, _ string, fps, w, h int, maxSeconds float64) ([]image.Image, error) {
	f.spans = append(f.spans, maxSeconds)
	n := int(min(maxSeconds, f.native) * float64(fps))
	frames := make([]image.Image, n)
	for i := range frames {
		frames[i] = solid(w, h, color.RGBA{A: 255})
	}
	return frames, nil
}

func TestLoader_SharedClipDecodesLongestSlot(t *testing.T) {
	assets := []models.CompositionAsset{
		{StartTime: 0, Kind: models.AssetKindVideo, Source: "clip.mp4"},
		{StartTime: 2, Kind: models.AssetKindVideo, Source: "clip.mp4"},
		{StartTime: 12, Kind: models.AssetKindVideo, Source: "clip.mp4"},
	}
	ex := &clipExtractor{native: 20}
	err := NewLoader(NewCache(), ex).Resolve(context.Background(), assets, 13, 10, 4, 4, nil)
	require.NoError(t, err)

	// the 1s slot reuses the 10s decode
	assert.Equal(t, []float64{2, 10}, ex.spans)

	first := assets[0].Media.(*VideoMedia)
	second := assets[1].Media.(*VideoMedia)
	assert.InDelta(t, 2.0, first.Duration(), 1e-9)
	assert.InDelta(t, 10.0, second.Duration(), 1e-9)
	assert.Equal(t, 50, second.FrameIndex(5))
	assert.NotEqual(t, second.FrameIndex(1.9), second.FrameIndex(5))
	assert.Same(t, assets[1].Media, assets[2].Media)
}
