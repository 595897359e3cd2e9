// Package tile_store serves encoded tiles from storage, rendering and
// persisting them on a miss.
//
// Persisting is best effort: a failed write is logged and counted but the
// freshly rendered bytes are still returned. A failed encode is the one
// error that reaches the caller.
package tile_store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"mandeltiles/internal/cache"
	"mandeltiles/internal/encoder"
	"mandeltiles/internal/image_renderer"
	"mandeltiles/internal/metrics"
)

const tracerName = "mandeltiles/internal/tile_store"

// ErrEncode is wrapped by every error GetOrRender returns for a tile that
// was rendered but could not be encoded.
var ErrEncode = errors.New("failed to encode tile")

type Source string

const (
	SourceCache  Source = "cache"
	SourceRender Source = "render"
)

// ContentETag identifies the bytes of an encoded tile. Entries written under
// an older render configuration keep their own tag.
func ContentETag(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])[:16]
}

type Tile struct {
	Data   []byte
	ETag   string
	Source Source
}

// PersistResult is the outcome of writing one rendered tile to storage.
type PersistResult struct {
	Key      cache.TileKey
	Bytes    int
	Duration time.Duration
	Err      error
}

func (p PersistResult) OK() bool {
	return p.Err == nil
}

type Store struct {
	cache     cache.Cache
	renderer  *image_renderer.Renderer
	encoder   encoder.Encoder
	logger    *zap.Logger
	tracer    trace.Tracer
	group     *singleflight.Group
	onPersist func(PersistResult)
}

type Option func(*Store)

// WithSingleFlight collapses concurrent misses for the same key into one
// render. Output bytes are unchanged.
func WithSingleFlight() Option {
	return func(s *Store) {
		s.group = &singleflight.Group{}
	}
}

// WithPersistHook registers fn to observe every persist attempt.
func WithPersistHook(fn func(PersistResult)) Option {
	return func(s *Store) {
		s.onPersist = fn
	}
}

func New(c cache.Cache, r *image_renderer.Renderer, enc encoder.Encoder, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		cache:    c,
		renderer: r,
		encoder:  enc,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ContentType() string {
	return s.encoder.ContentType()
}

// GetOrRender returns the stored tile for key, or renders, persists and
// returns it. Stored bytes are returned as they are, without validation.
func (s *Store) GetOrRender(ctx context.Context, key cache.TileKey) (*Tile, error) {
	ctx, span := s.tracer.Start(ctx, "tile_store.GetOrRender", trace.WithAttributes(
		attribute.Int("tile.z", key.Z),
		attribute.Int("tile.x", key.X),
		attribute.Int("tile.y", key.Y),
	))
	defer span.End()

	metrics.TileRequests.Inc()

	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		metrics.CacheReadErrors.Inc()
		s.logger.Warn("Tile unreadable, rendering", zap.Stringer("tile", key), zap.Error(err))
	}
	if ok {
		metrics.CacheHits.Inc()
		span.SetAttributes(attribute.String("tile.source", string(SourceCache)))
		s.logger.Debug("get", zap.Stringer("tile", key), zap.Int("bytes", len(data)))
		return &Tile{Data: data, ETag: ContentETag(data), Source: SourceCache}, nil
	}

	metrics.CacheMisses.Inc()
	span.SetAttributes(attribute.String("tile.source", string(SourceRender)))

	data, err = s.render(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return &Tile{Data: data, ETag: ContentETag(data), Source: SourceRender}, nil
}

func (s *Store) render(ctx context.Context, key cache.TileKey) ([]byte, error) {
	if s.group == nil {
		return s.renderAndPersist(ctx, key)
	}

	v, err, shared := s.group.Do(key.String(), func() (interface{}, error) {
		return s.renderAndPersist(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("Shared in-flight render", zap.Stringer("tile", key))
	}
	return v.([]byte), nil
}

func (s *Store) renderAndPersist(ctx context.Context, key cache.TileKey) ([]byte, error) {
	_, span := s.tracer.Start(ctx, "tile_store.render")
	start := time.Now()
	img := s.renderer.Render(key)
	renderTime := time.Since(start)
	metrics.RenderDuration.Observe(renderTime.Seconds())
	span.End()

	data, err := s.encoder.Encode(img)
	if err != nil {
		metrics.EncodeFailures.Inc()
		s.logger.Error("Failed to encode tile", zap.Stringer("tile", key), zap.Error(err))
		return nil, fmt.Errorf("tile %s: %w: %w", key, ErrEncode, err)
	}
	metrics.EncodedBytes.Observe(float64(len(data)))

	// the write outlives a cancelled request
	res := s.persist(context.WithoutCancel(ctx), key, data)
	if res.OK() {
		s.logger.Info("GEN",
			zap.Stringer("tile", key),
			zap.String("size", humanize.Bytes(uint64(res.Bytes))),
			zap.Duration("render", renderTime),
			zap.Duration("persist", res.Duration),
		)
	} else {
		metrics.PersistFailures.Inc()
		s.logger.Warn("Failed to persist tile",
			zap.Stringer("tile", key),
			zap.Duration("render", renderTime),
			zap.Error(res.Err),
		)
	}
	if s.onPersist != nil {
		s.onPersist(res)
	}

	return data, nil
}

func (s *Store) persist(ctx context.Context, key cache.TileKey, data []byte) PersistResult {
	ctx, span := s.tracer.Start(ctx, "tile_store.persist")
	defer span.End()

	start := time.Now()
	err := s.cache.Set(ctx, key, data)
	if err != nil {
		span.RecordError(err)
	}

	return PersistResult{
		Key:      key,
		Bytes:    len(data),
		Duration: time.Since(start),
		Err:      err,
	}
}
