package media

import (
	"image"
	"sync"

	"github.com/bobarin/framecast/internal/models"
)

type scaleKey struct {
	src  image.Image
	w, h int
	mode models.ContentMode
}

type frameSlot struct {
	key scaleKey
	img *image.RGBA
}

// Cache memoizes decoded media (keyed by source reference) and scaled
// stills for the lifetime of one orchestrator. Video frames get one slot
// per owner holding only the last scaled frame. Clear is called once per
// completed export.
type Cache struct {
	mu     sync.Mutex
	media  map[string]models.Media
	spans  map[string]float64
	scaled map[scaleKey]*image.RGBA
	frames map[any]frameSlot
}

func NewCache() *Cache {
	return &Cache{
		media:  make(map[string]models.Media),
		spans:  make(map[string]float64),
		scaled: make(map[scaleKey]*image.RGBA),
		frames: make(map[any]frameSlot),
	}
}

func (c *Cache) Media(source string) (models.Media, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.media[source]
	return m, ok
}

func (c *Cache) StoreMedia(source string, m models.Media) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.media[source] = m
}

// Video returns the cached decode of source when it covers at least span
// seconds of the clip.
func (c *Cache) Video(source string, span float64) (models.Media, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.media[source]
	if !ok || c.spans[source] < span {
		return nil, false
	}
	return m, true
}

// StoreVideo records a decode of source that covers span seconds.
func (c *Cache) StoreVideo(source string, m models.Media, span float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.media[source] = m
	c.spans[source] = span
}

// Scaled returns a still scaled for a w x h canvas in the given mode,
// building it on first use.
func (c *Cache) Scaled(src image.Image, w, h int, mode models.ContentMode) *image.RGBA {
	key := scaleKey{src: src, w: w, h: h, mode: mode}

	c.mu.Lock()
	if img, ok := c.scaled[key]; ok {
		c.mu.Unlock()
		return img
	}
	c.mu.Unlock()

	img := scale(src, w, h, mode)

	c.mu.Lock()
	c.scaled[key] = img
	c.mu.Unlock()
	return img
}

// ScaledFrame scales a video frame for owner. Only the most recent frame
// per owner is kept.
func (c *Cache) ScaledFrame(owner any, src image.Image, w, h int, mode models.ContentMode) *image.RGBA {
	key := scaleKey{src: src, w: w, h: h, mode: mode}

	c.mu.Lock()
	if slot, ok := c.frames[owner]; ok && slot.key == key {
		c.mu.Unlock()
		return slot.img
	}
	c.mu.Unlock()

	img := scale(src, w, h, mode)

	c.mu.Lock()
	c.frames[owner] = frameSlot{key: key, img: img}
	c.mu.Unlock()
	return img
}

// ScaledLen reports how many scaled canvases are retained.
func (c *Cache) ScaledLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.scaled) + len(c.frames)
}

func scale(src image.Image, w, h int, mode models.ContentMode) *image.RGBA {
	if mode == models.ContentModeContain {
		return Contain(src, w, h)
	}
	return Cover(src, w, h)
}

// Len reports the number of cached media sources.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.media)
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.media = make(map[string]models.Media)
	c.spans = make(map[string]float64)
	c.scaled = make(map[scaleKey]*image.RGBA)
	c.frames = make(map[any]frameSlot)
}
