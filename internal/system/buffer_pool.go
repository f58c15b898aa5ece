package system

import (
	"image"
	"sync"
)

// DefaultPoolSizes is how many distinct bounds the shared pool tracks.
const DefaultPoolSizes = 16

// ImagePool reuses *image.RGBA buffers of identical bounds. Scanned pages of
// one document usually share a size, so converting them back to back
// allocates once. At most limit bounds are pooled; other sizes are
// allocated fresh and dropped on Put.
type ImagePool struct {
	mu    sync.RWMutex
	pools map[image.Rectangle]*sync.Pool
	limit int
}

var rgbaPool = NewImagePool(DefaultPoolSizes)

func NewImagePool(limit int) *ImagePool {
	if limit <= 0 {
		limit = DefaultPoolSizes
	}
	return &ImagePool{pools: make(map[image.Rectangle]*sync.Pool), limit: limit}
}

// GetImage returns an RGBA buffer with the given bounds from the shared pool.
// Pixel contents are undefined; callers overwrite every pixel.
func GetImage(rect image.Rectangle) *image.RGBA {
	return rgbaPool.Get(rect)
}

// PutImage hands img back to the shared pool.
func PutImage(img *image.RGBA) {
	rgbaPool.Put(img)
}

func (p *ImagePool) Get(rect image.Rectangle) *image.RGBA {
	p.mu.RLock()
	pool, ok := p.pools[rect]
	p.mu.RUnlock()

	if !ok {
		p.mu.Lock()
		pool, ok = p.pools[rect]
		if !ok && len(p.pools) < p.limit {
			pool = &sync.Pool{
				New: func() any { return image.NewRGBA(rect) },
			}
			p.pools[rect] = pool
			ok = true
		}
		p.mu.Unlock()
		if !ok {
			return image.NewRGBA(rect)
		}
	}

	return pool.Get().(*image.RGBA)
}

func (p *ImagePool) Put(img *image.RGBA) {
	if img == nil {
		return
	}
	p.mu.RLock()
	pool, ok := p.pools[img.Rect]
	p.mu.RUnlock()

	if ok {
		pool.Put(img)
	}
}

// Sizes reports how many distinct bounds are pooled.
func (p *ImagePool) Sizes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pools)
}
