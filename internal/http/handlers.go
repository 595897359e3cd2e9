package http

import (
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mandeltiles/internal/cache"
	"mandeltiles/internal/config"
	"mandeltiles/internal/tile_store"
)

const landingPage = "/pub/index.html"

type Handlers struct {
	config   config.HTTP
	logger   *zap.Logger
	store    *tile_store.Store
	validate *validator.Validate
}

type tileParams struct {
	Z int `validate:"gte=0"`
	X int `validate:"gte=0"`
	Y int `validate:"gte=0"`
}

func New(cfg config.HTTP, logger *zap.Logger, store *tile_store.Store) *Handlers {
	return &Handlers{
		config:   cfg,
		logger:   logger,
		store:    store,
		validate: validator.New(),
	}
}

func (h *Handlers) RequestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		start := time.Now()

		c.Header("X-Request-Id", requestID)
		c.Next()

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}

func (h *Handlers) HandleRoot(c *gin.Context) {
	c.Redirect(http.StatusFound, landingPage)
}

func (h *Handlers) HandleHealthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *Handlers) HandleTile(c *gin.Context) {
	var p tileParams
	for _, param := range []struct {
		name string
		dst  *int
	}{{"z", &p.Z}, {"x", &p.X}, {"y", &p.Y}} {
		v, err := strconv.Atoi(c.Param(param.name))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": param.name + " should be integer",
			})
			return
		}
		*param.dst = v
	}

	if err := h.validate.Struct(p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "coordinates must be non-negative",
		})
		return
	}

	key := cache.TileKey{Z: p.Z, X: p.X, Y: p.Y}
	tile, err := h.store.GetOrRender(c.Request.Context(), key)
	if err != nil {
		c.Error(err)
		if errors.Is(err, tile_store.ErrEncode) {
			h.logger.Error("Failed to encode tile", zap.Stringer("tile", key), zap.Error(err))
		} else {
			h.logger.Error("Failed to get tile", zap.Stringer("tile", key), zap.Error(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to render tile",
		})
		return
	}

	etag := `"` + tile.ETag + `"`
	c.Header("ETag", etag)
	c.Header("Cache-Control", "public, max-age=31536000")
	c.Header("X-Tile-Source", string(tile.Source))

	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}

	c.Header("Content-Length", strconv.Itoa(len(tile.Data)))

	// HEAD request doesn't send body
	if c.Request.Method == http.MethodHead {
		c.Header("Content-Type", h.store.ContentType())
		c.Status(http.StatusOK)
		return
	}

	c.Data(http.StatusOK, h.store.ContentType(), tile.Data)
}

// HandleStatic serves files below the static root for any unmatched route.
func (h *Handlers) HandleStatic(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		h.notFound(c)
		return
	}

	// cleaning a rooted path drops any ".." that would climb out of the root
	rel := path.Clean("/" + c.Request.URL.Path)
	filePath := filepath.Join(h.config.StaticDir, filepath.FromSlash(rel))

	f, err := os.Open(filePath)
	if err != nil {
		h.notFound(c)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		h.notFound(c)
		return
	}

	// ServeContent rather than ServeFile, which would redirect the landing page
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}

func (h *Handlers) notFound(c *gin.Context) {
	h.logger.Error("Error 404: Not found", zap.String("url", c.Request.URL.String()))
	c.String(http.StatusNotFound, "404 page not found")
}
