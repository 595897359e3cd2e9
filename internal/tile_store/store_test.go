package tile_store

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"

	"mandeltiles/internal/cache"
	"mandeltiles/internal/config"
	"mandeltiles/internal/encoder"
	"mandeltiles/internal/image_renderer"
)

// countingCache records how often the wrapped backend is used.
type countingCache struct {
	cache.Cache
	gets atomic.Int64
	hits atomic.Int64
	sets atomic.Int64
}

func (c *countingCache) Get(ctx context.Context, key cache.TileKey) ([]byte, bool, error) {
	c.gets.Add(1)
	data, ok, err := c.Cache.Get(ctx, key)
	if ok {
		c.hits.Add(1)
	}
	return data, ok, err
}

func (c *countingCache) Set(ctx context.Context, key cache.TileKey, value []byte) error {
	c.sets.Add(1)
	return c.Cache.Set(ctx, key, value)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, cache.TileKey) ([]byte, bool, error) {
	return nil, false, errors.New("disk on fire")
}

func (brokenCache) Set(context.Context, cache.TileKey, []byte) error {
	return errors.New("disk on fire")
}

type failingEncoder struct{}

func (failingEncoder) Encode(image.Image) ([]byte, error) {
	return nil, errors.New("no encoder today")
}

func (failingEncoder) ContentType() string {
	return "image/png"
}

type countingEncoder struct {
	encoder.Encoder
	calls atomic.Int64
}

func (e *countingEncoder) Encode(img image.Image) ([]byte, error) {
	e.calls.Add(1)
	return e.Encoder.Encode(img)
}

func testRenderer(t *testing.T) *image_renderer.Renderer {
	t.Helper()
	return image_renderer.New(config.Render{
		TileSize:   32,
		IterMax:    48,
		PlaneWidth: 4.0,
		Workers:    2,
		Encoder:    "png",
	}, zaptest.NewLogger(t))
}

func TestGetOrRenderRoundTrip(t *testing.T) {
	files := cache.NewFileCache(t.TempDir())
	backend := &countingCache{Cache: files}
	store := New(backend, testRenderer(t), encoder.NewPNG(), zaptest.NewLogger(t))
	key := cache.TileKey{Z: 2, X: 1, Y: 2}
	ctx := context.Background()

	first, err := store.GetOrRender(ctx, key)
	if err != nil {
		t.Fatalf("first GetOrRender failed: %v", err)
	}
	if first.Source != SourceRender {
		t.Errorf("first source = %s, want %s", first.Source, SourceRender)
	}
	if backend.sets.Load() != 1 {
		t.Errorf("sets after miss = %d, want 1", backend.sets.Load())
	}

	onDisk, err := os.ReadFile(files.Path(key))
	if err != nil {
		t.Fatalf("tile not persisted: %v", err)
	}
	if !bytes.Equal(onDisk, first.Data) {
		t.Error("persisted bytes differ from returned bytes")
	}

	second, err := store.GetOrRender(ctx, key)
	if err != nil {
		t.Fatalf("second GetOrRender failed: %v", err)
	}
	if second.Source != SourceCache {
		t.Errorf("second source = %s, want %s", second.Source, SourceCache)
	}
	if !bytes.Equal(first.Data, second.Data) {
		t.Error("cached bytes differ from rendered bytes")
	}
	if backend.hits.Load() != 1 || backend.sets.Load() != 1 {
		t.Errorf("hits = %d, sets = %d, want 1 and 1", backend.hits.Load(), backend.sets.Load())
	}
	if first.ETag != second.ETag {
		t.Error("etag changed between render and cache hit")
	}
}

func TestGetOrRenderProducesPNG(t *testing.T) {
	store := New(cache.NewMemoryCache(4), testRenderer(t), encoder.NewPNG(), zaptest.NewLogger(t))

	tile, err := store.GetOrRender(context.Background(), cache.TileKey{})
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(tile.Data))
	if err != nil {
		t.Fatalf("tile is not a png: %v", err)
	}
	if cfg.Width != 32 || cfg.Height != 32 {
		t.Errorf("tile size = %dx%d, want 32x32", cfg.Width, cfg.Height)
	}
}

func TestGetOrRenderAfterDeletion(t *testing.T) {
	files := cache.NewFileCache(t.TempDir())
	store := New(files, testRenderer(t), encoder.NewPNG(), zaptest.NewLogger(t))
	key := cache.TileKey{Z: 3, X: 4, Y: 5}
	ctx := context.Background()

	original, err := store.GetOrRender(ctx, key)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(files.Path(key)); err != nil {
		t.Fatalf("failed to delete tile: %v", err)
	}

	again, err := store.GetOrRender(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if again.Source != SourceRender {
		t.Errorf("source after deletion = %s, want %s", again.Source, SourceRender)
	}
	if !bytes.Equal(original.Data, again.Data) {
		t.Error("re-rendered tile differs from the original")
	}
	if _, err := os.Stat(files.Path(key)); err != nil {
		t.Errorf("tile not persisted again: %v", err)
	}
}

func TestGetOrRenderPersistFailure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	if err := os.WriteFile(root, []byte("not a directory"), 0644); err != nil {
		t.Fatal(err)
	}

	var results []PersistResult
	store := New(cache.NewFileCache(root), testRenderer(t), encoder.NewPNG(), zaptest.NewLogger(t),
		WithPersistHook(func(r PersistResult) { results = append(results, r) }))
	reference := New(cache.NewMemoryCache(4), testRenderer(t), encoder.NewPNG(), zaptest.NewLogger(t))

	key := cache.TileKey{Z: 1, X: 1, Y: 0}
	tile, err := store.GetOrRender(context.Background(), key)
	if err != nil {
		t.Fatalf("persist failure surfaced: %v", err)
	}

	want, err := reference.GetOrRender(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(tile.Data, want.Data) {
		t.Error("tile rendered under a broken cache differs from the reference")
	}

	if len(results) != 1 {
		t.Fatalf("persist results = %d, want 1", len(results))
	}
	if results[0].OK() || results[0].Key != key || results[0].Bytes != len(tile.Data) {
		t.Errorf("persist result = %+v", results[0])
	}
}

func TestGetOrRenderReadErrorIsMiss(t *testing.T) {
	store := New(brokenCache{}, testRenderer(t), encoder.NewPNG(), zaptest.NewLogger(t))

	tile, err := store.GetOrRender(context.Background(), cache.TileKey{Z: 1})
	if err != nil {
		t.Fatalf("read error surfaced: %v", err)
	}
	if tile.Source != SourceRender || len(tile.Data) == 0 {
		t.Errorf("tile = %s with %d bytes", tile.Source, len(tile.Data))
	}
}

func TestGetOrRenderEncodeFailure(t *testing.T) {
	backend := &countingCache{Cache: cache.NewMemoryCache(4)}
	store := New(backend, testRenderer(t), failingEncoder{}, zaptest.NewLogger(t))

	tile, err := store.GetOrRender(context.Background(), cache.TileKey{})
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("err = %v, want ErrEncode", err)
	}
	if tile != nil {
		t.Error("tile returned alongside an encode error")
	}
	if backend.sets.Load() != 0 {
		t.Error("nothing should be persisted after an encode failure")
	}
}

func TestGetOrRenderServesStoredBytesVerbatim(t *testing.T) {
	backend := cache.NewMemoryCache(4)
	key := cache.TileKey{Z: 5, X: 1, Y: 1}
	backend.Set(context.Background(), key, []byte("not even a png"))

	store := New(backend, testRenderer(t), encoder.NewPNG(), zaptest.NewLogger(t))
	tile, err := store.GetOrRender(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if string(tile.Data) != "not even a png" || tile.Source != SourceCache {
		t.Errorf("tile = %q from %s", tile.Data, tile.Source)
	}
}

func TestGetOrRenderConcurrent(t *testing.T) {
	for _, singleFlight := range []bool{false, true} {
		name := "independent"
		var opts []Option
		if singleFlight {
			name = "single_flight"
			opts = append(opts, WithSingleFlight())
		}

		t.Run(name, func(t *testing.T) {
			enc := &countingEncoder{Encoder: encoder.NewPNG()}
			store := New(cache.NewFileCache(t.TempDir()), testRenderer(t), enc, zaptest.NewLogger(t), opts...)
			key := cache.TileKey{Z: 4, X: 3, Y: 7}

			const callers = 8
			results := make([][]byte, callers)
			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					tile, err := store.GetOrRender(context.Background(), key)
					if err != nil {
						t.Errorf("GetOrRender failed: %v", err)
						return
					}
					results[i] = tile.Data
				}()
			}
			wg.Wait()

			for i := 1; i < callers; i++ {
				if !bytes.Equal(results[0], results[i]) {
					t.Fatalf("caller %d got different bytes", i)
				}
			}
			if n := enc.calls.Load(); n < 1 || n > callers {
				t.Errorf("encodes = %d", n)
			}
		})
	}
}

func TestGetOrRenderETagFollowsStoredBytes(t *testing.T) {
	ctx := context.Background()
	key := cache.TileKey{Z: 1, X: 1, Y: 0}
	log := zaptest.NewLogger(t)

	// entry written by a server running a coarser render configuration
	backend := cache.NewMemoryCache(4)
	old := New(backend, image_renderer.New(config.Render{
		TileSize:   32,
		IterMax:    4,
		PlaneWidth: 4.0,
		Workers:    2,
		Encoder:    "png",
	}, log), encoder.NewPNG(), log)
	stale, err := old.GetOrRender(ctx, key)
	if err != nil {
		t.Fatal(err)
	}

	store := New(backend, testRenderer(t), encoder.NewPNG(), log)
	tile, err := store.GetOrRender(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if tile.Source != SourceCache || !bytes.Equal(tile.Data, stale.Data) {
		t.Fatalf("expected the stored entry, got source %s", tile.Source)
	}
	if tile.ETag != ContentETag(stale.Data) {
		t.Errorf("etag = %s, want %s", tile.ETag, ContentETag(stale.Data))
	}

	fresh, err := New(cache.NoopCache{}, testRenderer(t), encoder.NewPNG(), log).GetOrRender(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(fresh.Data, stale.Data) {
		t.Fatal("render configurations produced identical tiles")
	}
	if tile.ETag == fresh.ETag {
		t.Error("stale entry served under the etag of the current configuration")
	}
}

func TestContentETag(t *testing.T) {
	a := ContentETag([]byte("tile"))
	if len(a) != 16 {
		t.Errorf("etag length = %d, want 16", len(a))
	}
	if a != ContentETag([]byte("tile")) {
		t.Error("etag is not stable")
	}
	if a == ContentETag([]byte("tilf")) {
		t.Error("different bytes share an etag")
	}
}
