package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mandeltiles/internal/cache"
	"mandeltiles/internal/config"
	"mandeltiles/internal/encoder"
	"mandeltiles/internal/encoder/vipsencoder"
	httphandlers "mandeltiles/internal/http"
	"mandeltiles/internal/image_renderer"
	"mandeltiles/internal/logger"
	"mandeltiles/internal/telemetry"
	"mandeltiles/internal/tile_store"
	"mandeltiles/internal/warmup"
)

var (
	warmupLevels int
	cacheType    string

	rootCmd = &cobra.Command{
		Use:          "mandeltiles [HOST:PORT]",
		Short:        "Serve Mandelbrot map tiles, rendering each one once",
		SilenceUsage: true,
		Args:         cobra.MaximumNArgs(1),
		RunE:         run,
	}
)

func init() {
	rootCmd.Flags().IntVar(&warmupLevels, "warmup-levels", -1, "pre-render zoom levels 0..N at startup (overrides WARMUP_LEVELS)")
	rootCmd.Flags().StringVar(&cacheType, "cache", "", "tile storage: file, memory, sqlite, redis or disabled (overrides CACHE_TYPE)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if len(args) == 1 {
		cfg.HTTP.Addr = args[0]
	}
	if cmd.Flags().Changed("warmup-levels") {
		cfg.Warmup.Levels = warmupLevels
	}
	if cmd.Flags().Changed("cache") {
		cfg.Cache.Type = cacheType
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	if cfg.Telemetry.Enabled {
		shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry, log)
		if err != nil {
			log.Fatal("Failed to initialize telemetry", zap.Error(err))
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Error("Failed to shutdown telemetry", zap.Error(err))
			}
		}()
	}

	enc := newEncoder(cfg.Render, log)
	if cfg.Render.Encoder == "vips" {
		defer vips.Shutdown()
	}

	tileCache, err := cache.NewCache(cfg.Cache, cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to initialize cache", zap.Error(err))
	}
	if closer, ok := tileCache.(io.Closer); ok {
		defer closer.Close()
	}

	renderer := image_renderer.New(cfg.Render, log)

	var storeOpts []tile_store.Option
	if cfg.Cache.SingleFlight {
		storeOpts = append(storeOpts, tile_store.WithSingleFlight())
	}
	store := tile_store.New(tileCache, renderer, enc, log, storeOpts...)

	log.Info("Starting mandeltiles server",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("cache", cfg.Cache.Type),
		zap.Int("tile_size", cfg.Render.TileSize),
		zap.Int("iter_max", cfg.Render.IterMax),
		zap.Float64("plane_width", cfg.Render.PlaneWidth),
		zap.String("encoder", cfg.Render.Encoder),
	)

	gin.SetMode(gin.ReleaseMode)
	handlers := httphandlers.New(cfg.HTTP, log, store)
	router := httphandlers.NewRouter(handlers, cfg.Telemetry.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Warmup.Levels > 0 {
		go func() {
			if _, err := warmup.Run(ctx, store, cfg.Warmup.Levels, cfg.Warmup.Workers, log); err != nil {
				log.Warn("Tile warmup interrupted", zap.Error(err))
			}
		}()
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("addr", cfg.HTTP.Addr))

	<-ctx.Done()

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
	return nil
}

func newEncoder(cfg config.Render, log *zap.Logger) encoder.Encoder {
	if cfg.Encoder != "vips" {
		return encoder.NewPNG()
	}

	vips.SetLogging(vipsLogHandler(log), vips.LogLevelWarning)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		MaxCacheMem:      0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	})

	log.Info("VIPS initialized")
	return vipsencoder.New()
}

// vipsLogHandler forwards libvips messages to log. GLib levels shrink as
// severity grows, so ERROR < CRITICAL < WARNING.
func vipsLogHandler(log *zap.Logger) vips.LoggingHandlerFunction {
	return func(domain string, level vips.LogLevel, message string) {
		fields := []zap.Field{
			zap.String("domain", domain),
			zap.Int("level", int(level)),
			zap.String("message", message),
		}
		switch {
		case level <= vips.LogLevelCritical:
			log.Error("vips", fields...)
		case level <= vips.LogLevelWarning:
			log.Warn("vips", fields...)
		default:
			log.Debug("vips", fields...)
		}
	}
}
