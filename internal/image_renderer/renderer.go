package image_renderer

import (
	"image"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mandeltiles/internal/cache"
	"mandeltiles/internal/config"
	"mandeltiles/internal/fractal"
)

// Renderer rasterizes tiles of the Mandelbrot set. It holds a copy of the
// render configuration, so its output for a key never changes.
type Renderer struct {
	cfg     config.Render
	workers int
	logger  *zap.Logger
}

func New(cfg config.Render, logger *zap.Logger) *Renderer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	return &Renderer{
		cfg:     cfg,
		workers: workers,
		logger:  logger,
	}
}

func (r *Renderer) Config() config.Render {
	return r.cfg
}

// Render returns the full TileSize x TileSize raster for key. Rows are
// computed in parallel; every pixel is written exactly once.
func (r *Renderer) Render(key cache.TileKey) *image.RGBA {
	size := r.cfg.TileSize
	region := fractal.MapTile(key.Z, key.X, key.Y, r.cfg.PlaneWidth, size)
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	var g errgroup.Group
	g.SetLimit(r.workers)

	for py := 0; py < size; py++ {
		g.Go(func() error {
			r.renderRow(img, region, py)
			return nil
		})
	}
	g.Wait()

	r.logger.Debug("Rendered tile",
		zap.Stringer("tile", key),
		zap.Float64("x0", region.X0),
		zap.Float64("y0", region.Y0),
		zap.Float64("step", region.Step),
	)

	return img
}

func (r *Renderer) renderRow(img *image.RGBA, region fractal.Region, py int) {
	for px := 0; px < r.cfg.TileSize; px++ {
		x, y := region.At(px, py)
		img.SetRGBA(px, py, fractal.Color(fractal.Escape(x, y, r.cfg.IterMax)))
	}
}
