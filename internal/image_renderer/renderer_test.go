package image_renderer

import (
	"image/color"
	"testing"

	"go.uber.org/zap/zaptest"

	"mandeltiles/internal/cache"
	"mandeltiles/internal/config"
	"mandeltiles/internal/fractal"
)

func testConfig() config.Render {
	return config.Render{
		TileSize:   16,
		IterMax:    64,
		PlaneWidth: 4.0,
		Workers:    4,
		Encoder:    "png",
	}
}

func TestRenderMatchesPixelFunctions(t *testing.T) {
	cfg := testConfig()
	r := New(cfg, zaptest.NewLogger(t))
	key := cache.TileKey{Z: 1, X: 0, Y: 1}

	img := r.Render(key)
	if b := img.Bounds(); b.Dx() != cfg.TileSize || b.Dy() != cfg.TileSize {
		t.Fatalf("bounds = %v, want %dx%d", b, cfg.TileSize, cfg.TileSize)
	}

	region := fractal.MapTile(key.Z, key.X, key.Y, cfg.PlaneWidth, cfg.TileSize)
	for py := 0; py < cfg.TileSize; py++ {
		for px := 0; px < cfg.TileSize; px++ {
			x, y := region.At(px, py)
			want := fractal.Color(fractal.Escape(x, y, cfg.IterMax))
			if got := img.RGBAAt(px, py); got != want {
				t.Fatalf("pixel (%d, %d) = %v, want %v", px, py, got, want)
			}
		}
	}
}

func TestRenderDeterministic(t *testing.T) {
	log := zaptest.NewLogger(t)
	sequential := testConfig()
	sequential.Workers = 1
	parallel := testConfig()
	parallel.Workers = 8

	for _, key := range []cache.TileKey{{Z: 0, X: 0, Y: 0}, {Z: 2, X: 1, Y: 2}, {Z: 3, X: 100, Y: 100}} {
		a := New(sequential, log).Render(key)
		b := New(parallel, log).Render(key)
		c := New(parallel, log).Render(key)

		if string(a.Pix) != string(b.Pix) || string(b.Pix) != string(c.Pix) {
			t.Errorf("tile %s differs between renders", key)
		}
	}
}

func TestRenderOpaque(t *testing.T) {
	img := New(testConfig(), zaptest.NewLogger(t)).Render(cache.TileKey{})
	if !img.Opaque() {
		t.Error("rendered tile has transparent pixels")
	}
}

func TestRenderRootTileCenter(t *testing.T) {
	// the centre of the root tile is the origin, which never escapes
	r := New(testConfig(), zaptest.NewLogger(t))
	img := r.Render(cache.TileKey{})
	if got := img.RGBAAt(8, 8); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("centre pixel = %v, want black", got)
	}
}
